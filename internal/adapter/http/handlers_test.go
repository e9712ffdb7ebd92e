package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Strob0t/TabForge/internal/adapter/csvfile"
	tfhttp "github.com/Strob0t/TabForge/internal/adapter/http"
	"github.com/Strob0t/TabForge/internal/domain"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
	"github.com/Strob0t/TabForge/internal/domain/job"
	"github.com/Strob0t/TabForge/internal/port/messagequeue"
	"github.com/Strob0t/TabForge/internal/service"
)

// mockStore implements database.Store for testing.
type mockStore struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func (m *mockStore) CreateJob(_ context.Context, req job.CreateRequest) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := &job.Job{
		ID: uuid.NewString(), Kind: req.Kind, Prompt: req.Prompt, RowCount: req.RowCount,
		InputRef: req.InputRef, Status: job.StatusPending, CreatedAt: time.Now(),
	}
	m.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (m *mockStore) GetJob(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (m *mockStore) ListJobs(_ context.Context, _ int) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (m *mockStore) ClaimJob(context.Context, string) (*job.Job, error) { return nil, errors.New("unused") }
func (m *mockStore) ReleaseJob(context.Context, string, string) error    { return nil }
func (m *mockStore) CompleteJob(context.Context, string, job.Result) error {
	return nil
}

func (m *mockStore) FailJob(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status, j.Error = job.StatusFailed, reason
	}
	return nil
}

func (m *mockStore) RequeueStale(context.Context, time.Time, int) ([]string, []string, error) {
	return nil, nil, nil
}

func (m *mockStore) set(j *job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
}

// mockQueue records published subjects.
type mockQueue struct {
	mu       sync.Mutex
	payloads []messagequeue.JobSubmittedPayload
}

func (q *mockQueue) Publish(_ context.Context, _ string, data []byte) error {
	var p messagequeue.JobSubmittedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return nil
}

func (q *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) QueueSubscribe(context.Context, string, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

type testEnv struct {
	router http.Handler
	store  *mockStore
	queue  *mockQueue
	tables *csvfile.Store
	h      *tfhttp.Handlers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tables, err := csvfile.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{store: &mockStore{jobs: map[string]*job.Job{}}, queue: &mockQueue{}, tables: tables}
	env.h = &tfhttp.Handlers{
		Jobs:          service.NewJobService(env.store, env.queue, tables),
		MaxUploadSize: 1 << 20,
	}
	r := chi.NewRouter()
	tfhttp.MountRoutes(r, env.h, tfhttp.Mounts{})
	env.router = r
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["version"] != "2.0" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	env := newTestEnv(t)
	env.h.Checks = map[string]tfhttp.HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"nats":     func(context.Context) error { return errors.New("down") },
	}
	w := env.do(httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, w)
	if body.Status != "degraded" || body.Checks["nats"] != "unavailable" || body.Checks["postgres"] != "ok" {
		t.Errorf("body = %+v", body)
	}
}

func TestGenerateTabular(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantRows int
	}{
		{"explicit rows", `{"prompt":"users with name, age","rows":25}`, 25},
		{"zero rows defaults", `{"prompt":"users","rows":0}`, 10},
		{"negative rows defaults", `{"prompt":"users","rows":-4}`, 10},
		{"missing rows defaults", `{"prompt":"users"}`, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := httptest.NewRequest(http.MethodPost, "/generate-tabular", strings.NewReader(tt.body))
			w := env.do(req)
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			resp := decode[map[string]string](t, w)
			if resp["status"] != "processing" || resp["task_id"] == "" {
				t.Fatalf("resp = %v", resp)
			}
			j, err := env.store.GetJob(context.Background(), resp["task_id"])
			if err != nil {
				t.Fatal(err)
			}
			if j.RowCount != tt.wantRows || j.Kind != job.KindGenerate {
				t.Errorf("job = %+v, want %d rows", j, tt.wantRows)
			}
			if len(env.queue.payloads) != 1 || env.queue.payloads[0].JobID != j.ID {
				t.Errorf("published = %+v", env.queue.payloads)
			}
		})
	}
}

func TestGenerateTabularInvalidBody(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodPost, "/generate-tabular", strings.NewReader("{")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.queue.payloads) != 0 {
		t.Error("job published for invalid body")
	}
}

func TestTaskStatus(t *testing.T) {
	env := newTestEnv(t)
	env.store.set(&job.Job{ID: "p", Status: job.StatusPending})
	env.store.set(&job.Job{ID: "r", Status: job.StatusProcessing})
	env.store.set(&job.Job{ID: "c", Status: job.StatusCompleted, Result: &job.Result{
		Filename: "synthetic_1.csv", Rows: 3, Columns: []string{"name", "age"},
	}})
	env.store.set(&job.Job{ID: "f", Status: job.StatusFailed, Error: "load input: boom"})

	tests := []struct {
		id   string
		want string
	}{
		{"p", `{"status":"pending"}`},
		{"r", `{"status":"processing"}`},
		{"c", `{"status":"completed","result":{"status":"completed","filename":"synthetic_1.csv","rows":3,"columns":["name","age"]}}`},
		{"f", `{"status":"failed","error":"load input: boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := env.do(httptest.NewRequest(http.MethodGet, "/task-status/"+tt.id, http.NoBody))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.want {
				t.Errorf("body = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTaskStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/task-status/"+uuid.NewString(), http.NoBody))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func multipartBody(t *testing.T, fields map[string]string, file string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if file != "" {
		fw, err := mw.CreateFormFile("file", "people.csv")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.WriteString(fw, file)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadAndExtend(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		wantKind job.Kind
		wantRows int
	}{
		{"default mode", map[string]string{"prompt": "5 more rows", "rows": "5"}, job.KindExtend, 5},
		{"fill mode", map[string]string{"prompt": "columns name, age", "mode": "fill"}, job.KindFill, 10},
		{"empty prompt", map[string]string{"prompt": ""}, job.KindExtend, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			body, ct := multipartBody(t, tt.fields, "name,age\nAnna,30\n")
			req := httptest.NewRequest(http.MethodPost, "/upload-and-extend", body)
			req.Header.Set("Content-Type", ct)
			w := env.do(req)
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			resp := decode[map[string]string](t, w)
			j, err := env.store.GetJob(context.Background(), resp["task_id"])
			if err != nil {
				t.Fatal(err)
			}
			if j.Kind != tt.wantKind || j.RowCount != tt.wantRows || !csvfile.IsUpload(j.InputRef) {
				t.Fatalf("job = %+v", j)
			}
			table, err := env.tables.Load(context.Background(), j.InputRef)
			if err != nil {
				t.Fatalf("load upload: %v", err)
			}
			if table.Len() != 1 || table.Rows[0]["name"] != dataset.Value("Anna") {
				t.Errorf("uploaded table = %+v", table)
			}
		})
	}
}

func TestUploadAndExtendRejects(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		file   string
	}{
		{"missing file", map[string]string{"prompt": "x"}, ""},
		{"missing prompt", map[string]string{"rows": "3"}, "a\n1\n"},
		{"bad rows", map[string]string{"prompt": "x", "rows": "many"}, "a\n1\n"},
		{"bad mode", map[string]string{"prompt": "x", "mode": "merge"}, "a\n1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			body, ct := multipartBody(t, tt.fields, tt.file)
			req := httptest.NewRequest(http.MethodPost, "/upload-and-extend", body)
			req.Header.Set("Content-Type", ct)
			if w := env.do(req); w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			if len(env.queue.payloads) != 0 {
				t.Error("job published for rejected upload")
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.h.MaxUploadSize = 64
	body, ct := multipartBody(t, map[string]string{"prompt": "x"}, strings.Repeat("a,b\n", 100))
	req := httptest.NewRequest(http.MethodPost, "/upload-and-extend", body)
	req.Header.Set("Content-Type", ct)
	if w := env.do(req); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDownloadResult(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.tables.Save(context.Background(), dataset.Table{
		Columns: []string{"name"},
		Rows:    []dataset.Row{{"name": "Ivan"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/storage/results/"+saved.Name, http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Ivan") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestDownloadResultRejects(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		file string
		want int
	}{
		{"missing", "synthetic_20240101_000000_deadbeef.csv", http.StatusNotFound},
		{"upload", csvfile.NewUploadName(), http.StatusNotFound},
		{"not csv", "synthetic_x.txt", http.StatusBadRequest},
		{"unknown prefix", "passwd.csv", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(httptest.NewRequest(http.MethodGet, "/storage/results/"+tt.file, http.NoBody))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

type stubPresigner struct{ url string }

func (p stubPresigner) PresignGet(_ context.Context, name string, _ time.Duration) (string, error) {
	return p.url + "/" + name, nil
}

func TestDownloadResultRedirectsWhenPresigned(t *testing.T) {
	env := newTestEnv(t)
	env.h.Presigner = stubPresigner{url: "https://s3.example.com/bucket"}
	w := env.do(httptest.NewRequest(http.MethodGet, "/storage/results/synthetic_a.csv", http.NoBody))
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://s3.example.com/bucket/synthetic_a.csv" {
		t.Errorf("location = %q", loc)
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/jobs", http.NoBody))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty list: %d %s", w.Code, w.Body.String())
	}

	env.store.set(&job.Job{ID: "a", Status: job.StatusPending})
	w = env.do(httptest.NewRequest(http.MethodGet, "/jobs?limit=5", http.NoBody))
	if jobs := decode[[]job.Job](t, w); len(jobs) != 1 || jobs[0].ID != "a" {
		t.Errorf("jobs = %+v", jobs)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/jobs?limit=zero", http.NoBody))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}
