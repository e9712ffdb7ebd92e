// Package database defines the job store port (interface).
package database

import (
	"context"
	"errors"
	"time"

	"github.com/Strob0t/TabForge/internal/domain/job"
)

// ErrNotClaimable is returned by ClaimJob when the job exists but is not
// pending (already running elsewhere or finished).
var ErrNotClaimable = errors.New("job not claimable")

// StaleExhaustedReason is the error RequeueStale records on jobs it fails.
const StaleExhaustedReason = "attempts exhausted: worker lost during processing"

// Store is the port interface for job persistence.
type Store interface {
	CreateJob(ctx context.Context, req job.CreateRequest) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context, limit int) ([]job.Job, error)

	// ClaimJob moves a pending job to processing and increments its
	// attempt counter in one step.
	ClaimJob(ctx context.Context, id string) (*job.Job, error)
	// ReleaseJob returns a processing job to pending for another attempt.
	ReleaseJob(ctx context.Context, id, reason string) error
	CompleteJob(ctx context.Context, id string, result job.Result) error
	FailJob(ctx context.Context, id, reason string) error

	// RequeueStale handles jobs stuck in processing since before cutoff.
	// Jobs with fewer than maxAttempts attempts go back to pending and are
	// returned in requeued; the rest are failed with StaleExhaustedReason
	// and returned in failed.
	RequeueStale(ctx context.Context, cutoff time.Time, maxAttempts int) (requeued, failed []string, err error)
}
