package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Strob0t/TabForge/internal/adapter/otel"
	"github.com/Strob0t/TabForge/internal/domain/job"
	"github.com/Strob0t/TabForge/internal/port/cache"
	"github.com/Strob0t/TabForge/internal/port/database"
	"github.com/Strob0t/TabForge/internal/port/messagequeue"
	"github.com/Strob0t/TabForge/internal/port/tablestore"
)

// JobService accepts generation jobs, dispatches them over the queue and
// answers status queries.
type JobService struct {
	store     database.Store
	queue     messagequeue.Queue
	tables    tablestore.Store
	cache     cache.Cache
	statusTTL time.Duration
	metrics   *otel.Metrics
}

// NewJobService creates a JobService.
func NewJobService(store database.Store, queue messagequeue.Queue, tables tablestore.Store) *JobService {
	return &JobService{store: store, queue: queue, tables: tables}
}

// SetCache enables status caching. Only terminal states are cached.
func (s *JobService) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.statusTTL = ttl
}

// SetMetrics attaches metric instruments.
func (s *JobService) SetMetrics(m *otel.Metrics) { s.metrics = m }

func statusKey(id string) string { return "job:" + id }

// Submit validates req, persists a pending job and publishes it for the
// worker. If the job cannot be published it is marked failed and the
// publish error is returned.
func (s *JobService) Submit(ctx context.Context, req job.CreateRequest) (*job.Job, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	j, err := s.store.CreateJob(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.publish(ctx, j.ID, j.Kind); err != nil {
		slog.ErrorContext(ctx, "failed to publish job", "job_id", j.ID, "error", err)
		if failErr := s.store.FailJob(ctx, j.ID, "dispatch failed"); failErr != nil {
			slog.ErrorContext(ctx, "failed to mark undispatched job", "job_id", j.ID, "error", failErr)
		}
		return nil, fmt.Errorf("dispatch job %s: %w", j.ID, err)
	}

	s.metrics.JobSubmitted(ctx, string(j.Kind))
	slog.InfoContext(ctx, "job submitted", "job_id", j.ID, "kind", j.Kind, "rows", j.RowCount)
	return j, nil
}

// Republish re-dispatches an already persisted job.
func (s *JobService) Republish(ctx context.Context, id string) error {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return s.publish(ctx, j.ID, j.Kind)
}

// Announce publishes the current state of the job on jobs.status and drops
// its cached status. Failures are logged.
func (s *JobService) Announce(ctx context.Context, id string) {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, statusKey(id)); err != nil {
			slog.WarnContext(ctx, "status cache invalidation failed", "job_id", id, "error", err)
		}
	}
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "announce job failed", "job_id", id, "error", err)
		return
	}
	data, err := json.Marshal(StatusPayload(j))
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectJobStatus, data); err != nil {
		slog.WarnContext(ctx, "status publish failed", "job_id", id, "error", err)
	}
}

func (s *JobService) publish(ctx context.Context, id string, kind job.Kind) error {
	data, err := json.Marshal(messagequeue.JobSubmittedPayload{JobID: id, Kind: string(kind)})
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	if err := messagequeue.Validate(messagequeue.SubjectJobSubmitted, data); err != nil {
		return err
	}
	return s.queue.Publish(ctx, messagequeue.SubjectJobSubmitted, data)
}

// Status returns the job with the given id, served from cache once the job
// has reached a terminal state.
func (s *JobService) Status(ctx context.Context, id string) (*job.Job, error) {
	if s.cache != nil {
		var cached job.Job
		hit, err := cache.GetJSON(ctx, s.cache, statusKey(id), &cached)
		if err != nil {
			slog.WarnContext(ctx, "status cache read failed", "job_id", id, "error", err)
		}
		if hit {
			return &cached, nil
		}
	}

	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && j.Status.Terminal() {
		if err := cache.SetJSON(ctx, s.cache, statusKey(id), j, s.statusTTL); err != nil {
			slog.WarnContext(ctx, "status cache write failed", "job_id", id, "error", err)
		}
	}
	return j, nil
}

// List returns the most recent jobs.
func (s *JobService) List(ctx context.Context, limit int) ([]job.Job, error) {
	return s.store.ListJobs(ctx, limit)
}

// Upload stores an input table and returns its reference.
func (s *JobService) Upload(ctx context.Context, r io.Reader) (string, error) {
	ctx, span := otel.StartStorageSpan(ctx, "upload", "")
	defer span.End()

	name, err := s.tables.PutUpload(ctx, r)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("store upload: %w", err)
	}
	return name, nil
}

// OpenResult opens a stored table for download.
func (s *JobService) OpenResult(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.tables.Open(ctx, name)
}
