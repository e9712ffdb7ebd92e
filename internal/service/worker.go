package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/TabForge/internal/adapter/otel"
	"github.com/Strob0t/TabForge/internal/config"
	"github.com/Strob0t/TabForge/internal/domain"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
	"github.com/Strob0t/TabForge/internal/domain/job"
	"github.com/Strob0t/TabForge/internal/port/cache"
	"github.com/Strob0t/TabForge/internal/port/database"
	"github.com/Strob0t/TabForge/internal/port/messagequeue"
	"github.com/Strob0t/TabForge/internal/port/tablestore"
)

// ErrEmptyResult reports a fresh generation that produced no rows while
// Worker.FailOnEmpty is set.
var ErrEmptyResult = errors.New("generation produced no rows")

// ErrAttemptsExhausted is recorded on a job claimed after it already used
// every attempt, typically because earlier attempts died with their worker.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// Worker consumes submitted jobs and runs their pipelines.
type Worker struct {
	store       database.Store
	queue       messagequeue.Queue
	tables      tablestore.Store
	gen         *GenerationService
	cache       cache.Cache
	metrics     *otel.Metrics
	concurrency int
	maxAttempts int
	failOnEmpty bool
}

// NewWorker creates a Worker running up to cfg.Concurrency jobs at once.
func NewWorker(store database.Store, queue messagequeue.Queue, tables tablestore.Store, gen *GenerationService, cfg config.Worker) *Worker {
	return &Worker{
		store:       store,
		queue:       queue,
		tables:      tables,
		gen:         gen,
		concurrency: max(cfg.Concurrency, 1),
		maxAttempts: max(cfg.MaxAttempts, 1),
		failOnEmpty: cfg.FailOnEmpty,
	}
}

// SetCache sets the status cache invalidated on every transition.
func (w *Worker) SetCache(c cache.Cache) { w.cache = c }

// SetMetrics attaches metric instruments.
func (w *Worker) SetMetrics(m *otel.Metrics) { w.metrics = m }

// Start binds one subscriber per concurrency slot to the shared durable
// consumer. Each subscriber handles its messages in order, so the number
// of subscribers is the number of jobs in flight.
func (w *Worker) Start(ctx context.Context, durable string) (func(), error) {
	cancels := make([]func(), 0, w.concurrency)
	stop := func() {
		for _, c := range cancels {
			c()
		}
	}
	for range w.concurrency {
		cancel, err := w.queue.QueueSubscribe(ctx, messagequeue.SubjectJobSubmitted, durable, w.handle)
		if err != nil {
			stop()
			return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectJobSubmitted, err)
		}
		cancels = append(cancels, cancel)
	}
	slog.Info("worker started", "durable", durable, "concurrency", w.concurrency, "max_attempts", w.maxAttempts)
	return stop, nil
}

func (w *Worker) handle(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.JobSubmittedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode job payload: %w: %w", messagequeue.ErrPermanent, err)
	}
	return w.Process(ctx, p.JobID)
}

// Process runs one attempt of the job with the given id. A nil return
// means the message is done with; a non-nil error asks for redelivery
// unless it wraps messagequeue.ErrPermanent.
func (w *Worker) Process(ctx context.Context, id string) error {
	j, err := w.store.ClaimJob(ctx, id)
	switch {
	case errors.Is(err, database.ErrNotClaimable):
		slog.DebugContext(ctx, "job already claimed or finished", "job_id", id)
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("job %s: %w", id, messagequeue.ErrPermanent)
	case err != nil:
		return fmt.Errorf("claim job %s: %w", id, err)
	}

	ctx, span := otel.StartJobSpan(ctx, j.ID, string(j.Kind), j.Attempts)
	defer span.End()

	log := slog.With("job_id", j.ID, "kind", j.Kind, "attempt", j.Attempts)
	if j.Attempts > w.maxAttempts {
		reason := fmt.Sprintf("%s: %d of %d", ErrAttemptsExhausted, j.Attempts-1, w.maxAttempts)
		if err := w.store.FailJob(ctx, j.ID, reason); err != nil {
			return fmt.Errorf("fail job %s: %w", j.ID, err)
		}
		j.Status, j.Error = job.StatusFailed, reason
		w.metrics.JobFinished(ctx, string(j.Kind), string(j.Status), 0)
		log.ErrorContext(ctx, "job failed", "error", reason)
		w.notify(ctx, j)
		return nil
	}
	log.InfoContext(ctx, "job started")
	w.notify(ctx, j)

	res, runErr := w.run(ctx, j)
	if runErr == nil {
		if err := w.store.CompleteJob(ctx, j.ID, res); err != nil {
			return fmt.Errorf("complete job %s: %w", j.ID, err)
		}
		j.Status, j.Result, j.Error = job.StatusCompleted, &res, ""
		w.metrics.JobFinished(ctx, string(j.Kind), string(j.Status), res.Rows)
		log.InfoContext(ctx, "job completed", "rows", res.Rows, "file", res.Filename)
		w.notify(ctx, j)
		return nil
	}

	span.RecordError(runErr)
	permanent := errors.Is(runErr, domain.ErrNotFound) || errors.Is(runErr, domain.ErrValidation)
	if !permanent && j.Attempts < w.maxAttempts {
		if err := w.store.ReleaseJob(ctx, j.ID, runErr.Error()); err != nil {
			return fmt.Errorf("release job %s: %w", j.ID, err)
		}
		j.Status, j.Error = job.StatusPending, runErr.Error()
		w.metrics.JobFinished(ctx, string(j.Kind), string(j.Status), 0)
		log.WarnContext(ctx, "job attempt failed, retrying", "error", runErr)
		w.notify(ctx, j)
		return runErr
	}

	if err := w.store.FailJob(ctx, j.ID, runErr.Error()); err != nil {
		return fmt.Errorf("fail job %s: %w", j.ID, err)
	}
	j.Status, j.Error = job.StatusFailed, runErr.Error()
	w.metrics.JobFinished(ctx, string(j.Kind), string(j.Status), 0)
	log.ErrorContext(ctx, "job failed", "error", runErr)
	w.notify(ctx, j)
	return nil
}

// run executes the job's pipeline and saves its table.
func (w *Worker) run(ctx context.Context, j *job.Job) (job.Result, error) {
	var t dataset.Table
	switch j.Kind {
	case job.KindGenerate:
		t = w.gen.Generate(ctx, j.Prompt, j.RowCount)
		if t.Len() == 0 && w.failOnEmpty {
			return job.Result{}, ErrEmptyResult
		}
	case job.KindExtend:
		existing, err := w.load(ctx, j.InputRef)
		if err != nil {
			return job.Result{}, err
		}
		t = w.gen.Extend(ctx, existing, j.Prompt, j.RowCount)
	case job.KindFill:
		existing, err := w.load(ctx, j.InputRef)
		if err != nil {
			return job.Result{}, err
		}
		t = *w.gen.Fill(&existing, j.Prompt)
	default:
		return job.Result{}, fmt.Errorf("%w: %w %q", domain.ErrValidation, job.ErrUnknownKind, j.Kind)
	}

	ctx, span := otel.StartStorageSpan(ctx, "save", "")
	defer span.End()
	saved, err := w.tables.Save(ctx, t)
	if err != nil {
		span.RecordError(err)
		return job.Result{}, fmt.Errorf("save table: %w", err)
	}
	return job.Result{
		Filename: saved.Name,
		Rows:     t.Len(),
		Columns:  t.Columns,
		Checksum: saved.Checksum,
	}, nil
}

func (w *Worker) load(ctx context.Context, ref string) (dataset.Table, error) {
	ctx, span := otel.StartStorageSpan(ctx, "load", ref)
	defer span.End()
	t, err := w.tables.Load(ctx, ref)
	if err != nil {
		span.RecordError(err)
		return dataset.Table{}, fmt.Errorf("load input %s: %w", ref, err)
	}
	return t, nil
}

// notify drops the cached status and publishes the transition on
// jobs.status for StatusRelay subscribers.
func (w *Worker) notify(ctx context.Context, j *job.Job) {
	if w.cache != nil {
		if err := w.cache.Delete(ctx, statusKey(j.ID)); err != nil {
			slog.WarnContext(ctx, "status cache invalidation failed", "job_id", j.ID, "error", err)
		}
	}

	data, err := json.Marshal(StatusPayload(j))
	if err != nil {
		return
	}
	if err := w.queue.Publish(ctx, messagequeue.SubjectJobStatus, data); err != nil {
		slog.WarnContext(ctx, "status publish failed", "job_id", j.ID, "error", err)
	}
}

// StatusPayload converts a job into its status message.
func StatusPayload(j *job.Job) messagequeue.JobStatusPayload {
	p := messagequeue.JobStatusPayload{
		JobID:    j.ID,
		Status:   string(j.Status),
		Attempts: j.Attempts,
		Error:    j.Error,
	}
	if j.Result != nil {
		p.Filename = j.Result.Filename
		p.Rows = j.Result.Rows
		p.Columns = j.Result.Columns
	}
	return p
}
