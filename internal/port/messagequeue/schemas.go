package messagequeue

// JobSubmittedPayload is the schema for jobs.submitted messages.
type JobSubmittedPayload struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`
}

// JobStatusPayload is the schema for jobs.status messages.
type JobStatusPayload struct {
	JobID    string   `json:"job_id"`
	Status   string   `json:"status"`
	Attempts int      `json:"attempts"`
	Filename string   `json:"filename,omitempty"`
	Rows     int      `json:"rows,omitempty"`
	Columns  []string `json:"columns,omitempty"`
	Error    string   `json:"error,omitempty"`
}
