// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"errors"
)

// ErrPermanent marks a handler failure that redelivery cannot fix. Queue
// implementations acknowledge-and-drop such messages instead of retrying.
var ErrPermanent = errors.New("permanent message failure")

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe delivers every message on subject to this subscriber
	// (fan-out). The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// QueueSubscribe shares messages on subject among all subscribers using
	// the same durable name (work queue). A handler error triggers
	// redelivery unless it wraps ErrPermanent.
	QueueSubscribe(ctx context.Context, subject, durable string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by TabForge.
const (
	SubjectJobSubmitted = "jobs.submitted" // API -> worker: run a job
	SubjectJobStatus    = "jobs.status"    // worker -> API: status transitions for live clients
)
