package csvfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Strob0t/TabForge/internal/domain"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
	"github.com/Strob0t/TabForge/internal/port/tablestore"
)

// Store keeps tables under a local directory:
//
//	<dir>/results/synthetic_*.csv
//	<dir>/uploads/upload_*.csv
type Store struct {
	dir string
	now func() time.Time
}

// New creates the directory layout under dir and returns a Store.
func New(dir string) (*Store, error) {
	for _, sub := range []string{ResultsDir, UploadsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Save writes t as a new result file.
func (s *Store) Save(_ context.Context, t dataset.Table) (tablestore.Saved, error) {
	data, sum, err := EncodeBytes(t)
	if err != nil {
		return tablestore.Saved{}, fmt.Errorf("encode table: %w", err)
	}
	name := NewResultName(s.now())
	if err := writeAtomic(filepath.Join(s.dir, ResultsDir, name), data); err != nil {
		return tablestore.Saved{}, err
	}
	return tablestore.Saved{Name: name, Checksum: sum, Size: int64(len(data))}, nil
}

// Load reads and decodes a stored table.
func (s *Store) Load(ctx context.Context, name string) (dataset.Table, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return dataset.Table{}, err
	}
	defer func() { _ = rc.Close() }()

	t, err := Decode(rc)
	if err != nil {
		return dataset.Table{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return t, nil
}

// PutUpload stores r as a new upload and returns its name.
func (s *Store) PutUpload(_ context.Context, r io.Reader) (string, error) {
	name := NewUploadName()
	path := filepath.Join(s.dir, UploadsDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // G304: name is generated
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close upload: %w", err)
	}
	return name, nil
}

// Open returns the raw bytes of a stored table.
func (s *Store) Open(_ context.Context, name string) (io.ReadCloser, error) {
	sub, err := Locate(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, sub, name)) //nolint:gosec // G304: name validated by Locate
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: table %s", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Purge removes uploads last modified before cutoff.
func (s *Store) Purge(_ context.Context, cutoff time.Time) (int, error) {
	dir := filepath.Join(s.dir, UploadsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("list uploads: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !IsUpload(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed concurrently
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("purged uploads", "count", removed, "cutoff", cutoff)
	}
	return removed, errors.Join(errs...)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
