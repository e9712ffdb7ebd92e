// Package tablestore defines the port for persisting tables.
package tablestore

import (
	"context"
	"io"
	"time"

	"github.com/Strob0t/TabForge/internal/domain/dataset"
)

// Saved describes a persisted table.
type Saved struct {
	Name     string // file name, unique per save
	Checksum string // hex blake2b-256 of the stored bytes
	Size     int64
}

// Store persists generated tables and uploaded inputs.
//
// Names returned by Save and PutUpload are opaque references; Load and
// Open accept either kind. A missing name yields domain.ErrNotFound.
type Store interface {
	Save(ctx context.Context, t dataset.Table) (Saved, error)
	Load(ctx context.Context, name string) (dataset.Table, error)
	PutUpload(ctx context.Context, r io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Purge removes uploads last modified before cutoff and returns how
	// many were removed. Results are kept.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}
