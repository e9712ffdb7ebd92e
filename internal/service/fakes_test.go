package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TabForge/internal/domain"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
	"github.com/Strob0t/TabForge/internal/domain/job"
	"github.com/Strob0t/TabForge/internal/port/database"
	"github.com/Strob0t/TabForge/internal/port/messagequeue"
	"github.com/Strob0t/TabForge/internal/port/tablestore"
)

// fakeJobStore is an in-memory database.Store.
type fakeJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*job.Job
	stale []string
	err   error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*job.Job{}}
}

func (s *fakeJobStore) CreateJob(_ context.Context, req job.CreateRequest) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	now := time.Now()
	j := &job.Job{
		ID: uuid.NewString(), Kind: req.Kind, Prompt: req.Prompt, RowCount: req.RowCount,
		InputRef: req.InputRef, Status: job.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	s.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) get(id string) (*job.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return j, nil
}

func (s *fakeJobStore) GetJob(_ context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.get(id)
	if err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) ListJobs(_ context.Context, _ int) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (s *fakeJobStore) ClaimJob(_ context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusPending {
		return nil, database.ErrNotClaimable
	}
	j.Status = job.StatusProcessing
	j.Attempts++
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) transition(id string, from []job.Status, fn func(*job.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.get(id)
	if err != nil {
		return err
	}
	if !slices.Contains(from, j.Status) {
		return fmt.Errorf("job %s in %s: %w", id, j.Status, domain.ErrNotFound)
	}
	fn(j)
	return nil
}

func (s *fakeJobStore) ReleaseJob(_ context.Context, id, reason string) error {
	return s.transition(id, []job.Status{job.StatusProcessing}, func(j *job.Job) {
		j.Status, j.Error = job.StatusPending, reason
	})
}

func (s *fakeJobStore) CompleteJob(_ context.Context, id string, result job.Result) error {
	return s.transition(id, []job.Status{job.StatusProcessing}, func(j *job.Job) {
		j.Status, j.Result, j.Error = job.StatusCompleted, &result, ""
	})
}

func (s *fakeJobStore) FailJob(_ context.Context, id, reason string) error {
	return s.transition(id, []job.Status{job.StatusPending, job.StatusProcessing}, func(j *job.Job) {
		j.Status, j.Error = job.StatusFailed, reason
	})
}

func (s *fakeJobStore) RequeueStale(_ context.Context, _ time.Time, maxAttempts int) (requeued, failed []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, nil, s.err
	}
	for _, id := range s.stale {
		j := s.jobs[id]
		if j.Attempts >= maxAttempts {
			j.Status, j.Error = job.StatusFailed, database.StaleExhaustedReason
			failed = append(failed, id)
			continue
		}
		j.Status = job.StatusPending
		requeued = append(requeued, id)
	}
	return requeued, failed, nil
}

type published struct {
	subject string
	data    []byte
}

// fakeQueue records publishes and exposes the registered handlers. handlers
// holds the latest handler per subject, subs every one in order.
type fakeQueue struct {
	mu         sync.Mutex
	published  []published
	publishErr error
	handlers   map[string]messagequeue.Handler
	subs       map[string][]messagequeue.Handler
	cancelled  int
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, published{subject, data})
	return nil
}

func (q *fakeQueue) subscribe(subject string, h messagequeue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = map[string]messagequeue.Handler{}
		q.subs = map[string][]messagequeue.Handler{}
	}
	q.handlers[subject] = h
	q.subs[subject] = append(q.subs[subject], h)
}

func (q *fakeQueue) cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled++
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.subscribe(subject, h)
	return q.cancel, nil
}

func (q *fakeQueue) QueueSubscribe(_ context.Context, subject, _ string, h messagequeue.Handler) (func(), error) {
	q.subscribe(subject, h)
	return q.cancel, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) on(subject string) []published {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []published
	for _, p := range q.published {
		if p.subject == subject {
			out = append(out, p)
		}
	}
	return out
}

// fakeTables is an in-memory tablestore.Store.
type fakeTables struct {
	mu      sync.Mutex
	tables  map[string]dataset.Table
	uploads map[string][]byte
	saveErr error
	purged  []time.Time
}

func newFakeTables() *fakeTables {
	return &fakeTables{tables: map[string]dataset.Table{}, uploads: map[string][]byte{}}
}

func (f *fakeTables) Save(_ context.Context, t dataset.Table) (tablestore.Saved, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return tablestore.Saved{}, f.saveErr
	}
	name := fmt.Sprintf("synthetic_%d.csv", len(f.tables)+1)
	f.tables[name] = t
	return tablestore.Saved{Name: name, Checksum: "sum-" + name}, nil
}

func (f *fakeTables) Load(_ context.Context, name string) (dataset.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[name]
	if !ok {
		return dataset.Table{}, fmt.Errorf("table %s: %w", name, domain.ErrNotFound)
	}
	return t, nil
}

func (f *fakeTables) PutUpload(_ context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := "upload_" + uuid.NewString() + ".csv"
	f.uploads[name] = data
	return name, nil
}

func (f *fakeTables) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.uploads[name]; ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil, fmt.Errorf("table %s: %w", name, domain.ErrNotFound)
}

func (f *fakeTables) Purge(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, cutoff)
	return 0, nil
}

// fakeCache is an in-memory cache.Cache.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes []string
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deletes = append(c.deletes, key)
	return nil
}
