// Package broadcast defines the port for pushing job events to live clients.
package broadcast

import "context"

// EventJobStatus is emitted on every job status transition.
const EventJobStatus = "job.status"

// Event is one message for live clients. JobID lets subscribers filter.
type Event struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id,omitempty"`
	Payload any    `json:"payload"`
}

// Broadcaster sends events to connected clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

// Broadcast does nothing.
func (Nop) Broadcast(context.Context, Event) {}
