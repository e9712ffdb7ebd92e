// Package job defines the GenerationJob entity tracked by the task queue.
package job

import "time"

// Kind selects the pipeline a job runs.
type Kind string

const (
	// KindGenerate produces a fresh table from the prompt via the model.
	KindGenerate Kind = "generate"
	// KindExtend loads an existing table and appends freshly generated rows.
	KindExtend Kind = "extend"
	// KindFill loads an existing table and fills missing columns and rows
	// with placeholder values, without a model call.
	KindFill Kind = "fill"
)

// Status represents the current state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job correlates a prompt (and optional input table) with an output table
// or a failure.
type Job struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Prompt    string    `json:"prompt"`
	RowCount  int       `json:"row_count"`
	InputRef  string    `json:"input_ref,omitempty"`
	Status    Status    `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Result holds the output of a completed job.
type Result struct {
	Filename string   `json:"filename"`
	Rows     int      `json:"rows"`
	Columns  []string `json:"columns"`
	Checksum string   `json:"checksum,omitempty"`
}

// CreateRequest holds the fields needed to submit a job.
type CreateRequest struct {
	Kind     Kind   `json:"kind"`
	Prompt   string `json:"prompt"`
	RowCount int    `json:"rows"`
	InputRef string `json:"input_ref,omitempty"`
}
