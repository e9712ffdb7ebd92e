package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mounts holds the optional handlers and middleware MountRoutes wires in.
type Mounts struct {
	WS          http.Handler
	MCP         http.Handler
	Idempotency func(http.Handler) http.Handler
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, m Mounts) {
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if m.Idempotency != nil {
			r.Use(m.Idempotency)
		}
		r.Post("/generate-tabular", h.GenerateTabular)
		r.Post("/upload-and-extend", h.UploadAndExtend)
	})

	r.Get("/task-status/{id}", h.TaskStatus)
	r.Get("/jobs", h.ListJobs)
	r.Get("/storage/results/{filename}", h.DownloadResult)

	if m.WS != nil {
		r.Get("/ws", m.WS.ServeHTTP)
	}
	if m.MCP != nil {
		r.Handle("/mcp", m.MCP)
	}
}
