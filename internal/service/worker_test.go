package service

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/TabForge/internal/config"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
	"github.com/Strob0t/TabForge/internal/domain/job"
	"github.com/Strob0t/TabForge/internal/port/messagequeue"
)

type workerFixture struct {
	store  *fakeJobStore
	queue  *fakeQueue
	tables *fakeTables
	llm    *stubCompleter
	cache  *fakeCache
	worker *Worker
}

func newWorkerFixture(t *testing.T, cfg config.Worker) *workerFixture {
	t.Helper()
	f := &workerFixture{
		store:  newFakeJobStore(),
		queue:  &fakeQueue{},
		tables: newFakeTables(),
		llm:    &stubCompleter{},
		cache:  newFakeCache(),
	}
	gen := NewGenerationService(f.llm, time.Second)
	gen.SetGeneratorFactory(func() *dataset.Generator { return dataset.NewGenerator(nil) })
	f.worker = NewWorker(f.store, f.queue, f.tables, gen, cfg)
	f.worker.SetCache(f.cache)
	return f
}

func (f *workerFixture) submit(t *testing.T, req job.CreateRequest) *job.Job {
	t.Helper()
	req.Normalize()
	j, err := f.store.CreateJob(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func (f *workerFixture) statuses(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range f.queue.on(messagequeue.SubjectJobStatus) {
		var p messagequeue.JobStatusPayload
		if err := json.Unmarshal(m.data, &p); err != nil {
			t.Fatal(err)
		}
		out = append(out, p.Status)
	}
	return out
}

func defaultWorkerConfig() config.Worker {
	return config.Defaults().Worker
}

func TestWorkerGenerateCompletes(t *testing.T) {
	f := newWorkerFixture(t, defaultWorkerConfig())
	f.llm.reply = `{"data":[{"name":"A","age":30},{"name":"B","age":41}]}`
	j := f.submit(t, job.CreateRequest{Prompt: "2 rows with columns name, age", RowCount: 2})

	if err := f.worker.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusCompleted || got.Result == nil {
		t.Fatalf("job = %+v", got)
	}
	if got.Result.Rows != 2 || !slices.Equal(got.Result.Columns, []string{"name", "age"}) {
		t.Errorf("result = %+v", got.Result)
	}
	if got.Result.Checksum == "" {
		t.Error("expected checksum on result")
	}
	if _, ok := f.tables.tables[got.Result.Filename]; !ok {
		t.Errorf("result file %s not saved", got.Result.Filename)
	}
	if want := []string{"processing", "completed"}; !slices.Equal(f.statuses(t), want) {
		t.Errorf("status events = %v, want %v", f.statuses(t), want)
	}
	if !slices.Contains(f.cache.deletes, statusKey(j.ID)) {
		t.Error("expected status cache invalidation")
	}
}

func TestWorkerEmptyGenerationCompletesByDefault(t *testing.T) {
	f := newWorkerFixture(t, defaultWorkerConfig())
	f.llm.err = errors.New("connection refused")
	j := f.submit(t, job.CreateRequest{Prompt: "5 rows"})

	if err := f.worker.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusCompleted || got.Result.Rows != 0 {
		t.Fatalf("job = %+v", got)
	}
}

func TestWorkerFailOnEmptyRetriesThenFails(t *testing.T) {
	cfg := defaultWorkerConfig()
	cfg.FailOnEmpty = true
	cfg.MaxAttempts = 2
	f := newWorkerFixture(t, cfg)
	f.llm.reply = "no json here"
	j := f.submit(t, job.CreateRequest{Prompt: "5 rows"})
	ctx := context.Background()

	if err := f.worker.Process(ctx, j.ID); !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("first attempt err = %v, want ErrEmptyResult for redelivery", err)
	}
	got, _ := f.store.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending || got.Attempts != 1 {
		t.Fatalf("after first attempt job = %+v", got)
	}

	if err := f.worker.Process(ctx, j.ID); err != nil {
		t.Fatalf("final attempt err = %v, want nil (ack)", err)
	}
	got, _ = f.store.GetJob(ctx, j.ID)
	if got.Status != job.StatusFailed || got.Error != ErrEmptyResult.Error() {
		t.Fatalf("after final attempt job = %+v", got)
	}
	want := []string{"processing", "pending", "processing", "failed"}
	if !slices.Equal(f.statuses(t), want) {
		t.Errorf("status events = %v, want %v", f.statuses(t), want)
	}
}

func TestWorkerExtendAppends(t *testing.T) {
	f := newWorkerFixture(t, defaultWorkerConfig())
	f.tables.tables["upload_in.csv"] = dataset.Table{
		Columns: []string{"id", "name"},
		Rows:    []dataset.Row{{"id": int64(1), "name": "A"}},
	}
	f.llm.reply = `{"data":[{"salary":100},{"salary":200}]}`
	j := f.submit(t, job.CreateRequest{Kind: job.KindExtend, Prompt: "columns salary", RowCount: 2, InputRef: "upload_in.csv"})

	if err := f.worker.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Result == nil || got.Result.Rows != 3 {
		t.Fatalf("result = %+v", got.Result)
	}
	if !slices.Equal(got.Result.Columns, []string{"id", "name", "salary"}) {
		t.Errorf("columns = %v", got.Result.Columns)
	}
	if len(f.llm.prompts) != 1 || !containsAll(f.llm.prompts[0], "Generate exactly 2 rows.") {
		t.Errorf("extend should request the job row count, prompts = %v", f.llm.prompts)
	}
}

func TestWorkerFillMakesNoModelCall(t *testing.T) {
	f := newWorkerFixture(t, defaultWorkerConfig())
	f.tables.tables["upload_in.csv"] = dataset.Table{
		Columns: []string{"name"},
		Rows:    []dataset.Row{{"name": "A"}, {"name": "B"}},
	}
	j := f.submit(t, job.CreateRequest{Kind: job.KindFill, Prompt: "4 rows with columns name, age", InputRef: "upload_in.csv"})

	if err := f.worker.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.llm.prompts) != 0 {
		t.Fatal("fill must not call the model")
	}
	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Result.Rows != 4 || !slices.Equal(got.Result.Columns, []string{"name", "id", "age"}) {
		t.Errorf("result = %+v", got.Result)
	}
}

func TestWorkerMissingInputFailsImmediately(t *testing.T) {
	f := newWorkerFixture(t, defaultWorkerConfig())
	j := f.submit(t, job.CreateRequest{Kind: job.KindFill, InputRef: "upload_gone.csv"})

	if err := f.worker.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed || got.Attempts != 1 {
		t.Fatalf("job = %+v", got)
	}
}

func TestWorkerStorageFailureRetries(t *testing.T) {
	f := newWorkerFixture(t, defaultWorkerConfig())
	f.tables.saveErr = errors.New("disk full")
	f.llm.reply = `{"data":[{"a":1}]}`
	j := f.submit(t, job.CreateRequest{Prompt: "1 row"})

	if err := f.worker.Process(context.Background(), j.ID); err == nil {
		t.Fatal("expected error so the message is redelivered")
	}
	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusPending || got.Error == "" {
		t.Fatalf("job = %+v", got)
	}
}

func TestWorkerDuplicateDeliveryIsAcked(t *testing.T) {
	f := newWorkerFixture(t, defaultWorkerConfig())
	f.llm.reply = `{"data":[{"a":1}]}`
	j := f.submit(t, job.CreateRequest{Prompt: "1 row"})
	ctx := context.Background()

	if err := f.worker.Process(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.worker.Process(ctx, j.ID); err != nil {
		t.Fatalf("duplicate delivery err = %v, want nil", err)
	}
	if len(f.llm.prompts) != 1 {
		t.Fatalf("model called %d times, want 1", len(f.llm.prompts))
	}
}

func TestWorkerUnknownJobIsPermanent(t *testing.T) {
	f := newWorkerFixture(t, defaultWorkerConfig())
	err := f.worker.Process(context.Background(), "missing")
	if !errors.Is(err, messagequeue.ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
}

func TestWorkerHandleViaSubscription(t *testing.T) {
	f := newWorkerFixture(t, defaultWorkerConfig())
	f.llm.reply = `{"data":[{"a":1}]}`
	j := f.submit(t, job.CreateRequest{Prompt: "1 row"})

	stop, err := f.worker.Start(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	h := f.queue.handlers[messagequeue.SubjectJobSubmitted]
	if h == nil {
		t.Fatal("worker did not subscribe to jobs.submitted")
	}
	if err := h(context.Background(), messagequeue.SubjectJobSubmitted, []byte(`{"job_id":"`+j.ID+`"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if err := h(context.Background(), messagequeue.SubjectJobSubmitted, []byte(`[`)); !errors.Is(err, messagequeue.ErrPermanent) {
		t.Fatalf("garbage payload err = %v, want ErrPermanent", err)
	}
	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusCompleted {
		t.Fatalf("job = %+v", got)
	}
}

// gatedCompleter holds every call until release is closed and records the
// peak number of calls in flight.
type gatedCompleter struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	arrived  chan struct{}
	release  chan struct{}
}

func (g *gatedCompleter) Complete(ctx context.Context, _ string) (string, error) {
	g.mu.Lock()
	g.inFlight++
	g.peak = max(g.peak, g.inFlight)
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	g.arrived <- struct{}{}
	select {
	case <-g.release:
		return `{"data":[{"a":1}]}`, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestWorkerRunsJobsConcurrently(t *testing.T) {
	cfg := defaultWorkerConfig()
	cfg.Concurrency = 2
	f := newWorkerFixture(t, cfg)
	llm := &gatedCompleter{arrived: make(chan struct{}, 2), release: make(chan struct{})}
	gen := NewGenerationService(llm, 5*time.Second)
	f.worker = NewWorker(f.store, f.queue, f.tables, gen, cfg)

	stop, err := f.worker.Start(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	subs := f.queue.subs[messagequeue.SubjectJobSubmitted]
	if len(subs) != 2 {
		t.Fatalf("subscribers = %d, want one per concurrency slot", len(subs))
	}

	a := f.submit(t, job.CreateRequest{Prompt: "1 row"})
	b := f.submit(t, job.CreateRequest{Prompt: "1 row"})
	var wg sync.WaitGroup
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := subs[i](context.Background(), messagequeue.SubjectJobSubmitted, []byte(`{"job_id":"`+id+`"}`)); err != nil {
				t.Errorf("handler %d: %v", i, err)
			}
		}()
	}

	for range 2 {
		select {
		case <-llm.arrived:
		case <-time.After(2 * time.Second):
			t.Fatal("jobs did not run at the same time")
		}
	}
	close(llm.release)
	wg.Wait()

	if llm.peak != 2 {
		t.Errorf("peak in-flight model calls = %d, want 2", llm.peak)
	}
	for _, id := range []string{a.ID, b.ID} {
		if got, _ := f.store.GetJob(context.Background(), id); got.Status != job.StatusCompleted {
			t.Errorf("job %s = %s, want completed", id, got.Status)
		}
	}

	stop()
	if f.queue.cancelled != 2 {
		t.Errorf("cancelled %d subscriptions, want 2", f.queue.cancelled)
	}
}

func TestWorkerFailsJobClaimedPastMaxAttempts(t *testing.T) {
	cfg := defaultWorkerConfig()
	cfg.MaxAttempts = 2
	f := newWorkerFixture(t, cfg)
	f.llm.reply = `{"data":[{"a":1}]}`
	j := f.submit(t, job.CreateRequest{Prompt: "1 row"})
	// Two earlier attempts died with their worker and were requeued.
	f.store.jobs[j.ID].Attempts = 2

	if err := f.worker.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed || !strings.Contains(got.Error, ErrAttemptsExhausted.Error()) {
		t.Fatalf("job = %+v, want failed with exhausted attempts", got)
	}
	if len(f.llm.prompts) != 0 {
		t.Error("exhausted job must not call the model")
	}
	if want := []string{"failed"}; !slices.Equal(f.statuses(t), want) {
		t.Errorf("status events = %v, want %v", f.statuses(t), want)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
