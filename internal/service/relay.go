package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/TabForge/internal/port/broadcast"
	"github.com/Strob0t/TabForge/internal/port/cache"
	"github.com/Strob0t/TabForge/internal/port/messagequeue"
)

// StatusRelay forwards jobs.status messages from any worker process to
// this process's live clients and drops the local cached status.
type StatusRelay struct {
	queue       messagequeue.Queue
	broadcaster broadcast.Broadcaster
	cache       cache.Cache
}

// NewStatusRelay creates a StatusRelay. c may be nil.
func NewStatusRelay(queue messagequeue.Queue, b broadcast.Broadcaster, c cache.Cache) *StatusRelay {
	return &StatusRelay{queue: queue, broadcaster: b, cache: c}
}

// Start subscribes to jobs.status. Every relay sees every message.
func (r *StatusRelay) Start(ctx context.Context) (func(), error) {
	cancel, err := r.queue.Subscribe(ctx, messagequeue.SubjectJobStatus, r.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectJobStatus, err)
	}
	return cancel, nil
}

func (r *StatusRelay) handle(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.JobStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode status payload: %w: %w", messagequeue.ErrPermanent, err)
	}
	if r.cache != nil {
		if err := r.cache.Delete(ctx, statusKey(p.JobID)); err != nil {
			slog.DebugContext(ctx, "status cache invalidation failed", "job_id", p.JobID, "error", err)
		}
	}
	r.broadcaster.Broadcast(ctx, broadcast.Event{Type: broadcast.EventJobStatus, JobID: p.JobID, Payload: p})
	return nil
}
