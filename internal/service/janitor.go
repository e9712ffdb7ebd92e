package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Strob0t/TabForge/internal/port/database"
	"github.com/Strob0t/TabForge/internal/port/tablestore"
)

// Janitor periodically purges stale uploads and requeues jobs whose worker
// disappeared mid-attempt.
type Janitor struct {
	store           database.Store
	tables          tablestore.Store
	jobs            *JobService
	uploadRetention time.Duration
	stuckAfter      time.Duration
	maxAttempts     int
	now             func() time.Time
	cron            *cron.Cron
}

// NewJanitor creates a Janitor. Jobs processing for longer than stuckAfter
// are reset to pending and republished through jobs, unless they already
// used maxAttempts attempts, in which case they are failed.
func NewJanitor(store database.Store, tables tablestore.Store, jobs *JobService, uploadRetention, stuckAfter time.Duration, maxAttempts int) *Janitor {
	return &Janitor{
		store:           store,
		tables:          tables,
		jobs:            jobs,
		uploadRetention: uploadRetention,
		stuckAfter:      stuckAfter,
		maxAttempts:     max(maxAttempts, 1),
		now:             time.Now,
	}
}

// Start schedules RunOnce on the cron spec. An empty spec disables the
// janitor. The returned function stops the schedule and waits for a
// running pass to finish.
func (j *Janitor) Start(ctx context.Context, spec string) (func(), error) {
	if spec == "" {
		return func() {}, nil
	}
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(spec, func() { j.RunOnce(ctx) }); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", spec, err)
	}
	j.cron.Start()
	slog.Info("janitor scheduled", "spec", spec)
	return func() { <-j.cron.Stop().Done() }, nil
}

// RunOnce performs a single purge and requeue pass. Failures are logged.
func (j *Janitor) RunOnce(ctx context.Context) {
	now := j.now()

	if j.uploadRetention > 0 {
		n, err := j.tables.Purge(ctx, now.Add(-j.uploadRetention))
		if err != nil {
			slog.ErrorContext(ctx, "upload purge failed", "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "purged stale uploads", "count", n)
		}
	}

	if j.stuckAfter <= 0 {
		return
	}
	ids, failed, err := j.store.RequeueStale(ctx, now.Add(-j.stuckAfter), j.maxAttempts)
	if err != nil {
		slog.ErrorContext(ctx, "requeue stale jobs failed", "error", err)
		return
	}
	for _, id := range failed {
		slog.ErrorContext(ctx, "stuck job out of attempts", "job_id", id)
		j.jobs.Announce(ctx, id)
	}
	for _, id := range ids {
		if err := j.jobs.Republish(ctx, id); err != nil {
			slog.ErrorContext(ctx, "republish stale job failed", "job_id", id, "error", err)
			continue
		}
		slog.WarnContext(ctx, "requeued stuck job", "job_id", id)
	}
}
