package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/TabForge/internal/adapter/csvfile"
	"github.com/Strob0t/TabForge/internal/domain/job"
	"github.com/Strob0t/TabForge/internal/service"
)

// Version is reported by the health endpoint.
const Version = "2.0"

const (
	jsonBodyLimit    = 1 << 20
	multipartMemory  = 8 << 20
	presignExpiry    = 15 * time.Minute
	defaultListLimit = 50
)

// Presigner issues direct download URLs for stored tables.
type Presigner interface {
	PresignGet(ctx context.Context, name string, expiry time.Duration) (string, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handlers for the TabForge API.
type Handlers struct {
	Jobs          *service.JobService
	Presigner     Presigner // optional; results are streamed when nil
	Checks        map[string]HealthCheck
	MaxUploadSize int64
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: Version}
	code := http.StatusOK
	if len(h.Checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		resp.Checks = make(map[string]string, len(h.Checks))
		for name, check := range h.Checks {
			if err := check(ctx); err != nil {
				slog.WarnContext(ctx, "health check failed", "check", name, "error", err)
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	writeJSON(w, code, resp)
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Rows   int    `json:"rows"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// GenerateTabular handles POST /generate-tabular.
func (h *Handlers) GenerateTabular(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[generateRequest](w, r, jsonBodyLimit)
	if !ok {
		return
	}
	h.submit(w, r, job.CreateRequest{Kind: job.KindGenerate, Prompt: req.Prompt, RowCount: req.Rows})
}

// UploadAndExtend handles POST /upload-and-extend. The multipart form
// carries the table in "file", plus "prompt", "rows" and an optional
// "mode" of extend (default) or fill.
func (h *Handlers) UploadAndExtend(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	if _, ok := r.MultipartForm.Value["prompt"]; !ok {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	rows, err := formInt(r, "rows", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var kind job.Kind
	switch mode := r.FormValue("mode"); mode {
	case "", "extend":
		kind = job.KindExtend
	case "fill":
		kind = job.KindFill
	default:
		writeError(w, http.StatusBadRequest, "mode must be extend or fill")
		return
	}

	ref, err := h.Jobs.Upload(r.Context(), file)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	h.submit(w, r, job.CreateRequest{Kind: kind, Prompt: r.FormValue("prompt"), RowCount: rows, InputRef: ref})
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, req job.CreateRequest) {
	j, err := h.Jobs.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "job not found")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: j.ID, Status: "processing"})
}

type taskResult struct {
	Status   string   `json:"status"`
	Filename string   `json:"filename"`
	Rows     int      `json:"rows"`
	Columns  []string `json:"columns"`
}

type taskStatusResponse struct {
	Status string      `json:"status"`
	Result *taskResult `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// TaskStatus handles GET /task-status/{id}.
func (h *Handlers) TaskStatus(w http.ResponseWriter, r *http.Request) {
	j, err := h.Jobs.Status(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, statusBody(j))
}

func statusBody(j *job.Job) taskStatusResponse {
	resp := taskStatusResponse{Status: string(j.Status)}
	switch j.Status {
	case job.StatusCompleted:
		if j.Result != nil {
			resp.Result = &taskResult{
				Status:   string(job.StatusCompleted),
				Filename: j.Result.Filename,
				Rows:     j.Result.Rows,
				Columns:  j.Result.Columns,
			}
		}
	case job.StatusFailed:
		resp.Error = j.Error
	}
	return resp
}

// ListJobs handles GET /jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	jobs, err := h.Jobs.List(r.Context(), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// DownloadResult handles GET /storage/results/{filename}.
func (h *Handlers) DownloadResult(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "filename")
	if csvfile.IsUpload(name) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if _, err := csvfile.Locate(name); err != nil {
		writeDomainError(w, err, "file not found")
		return
	}

	if h.Presigner != nil {
		url, err := h.Presigner.PresignGet(r.Context(), name, presignExpiry)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}

	rc, err := h.Jobs.OpenResult(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "file not found")
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		slog.WarnContext(r.Context(), "result download interrupted", "file", name, "error", err)
	}
}
