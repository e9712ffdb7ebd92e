package job

import (
	"errors"
	"fmt"

	"github.com/Strob0t/TabForge/internal/domain"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
)

var (
	ErrUnknownKind   = errors.New("unknown job kind")
	ErrInputRequired = errors.New("input table reference is required")
)

// Normalize fills defaults: an empty kind becomes KindGenerate and a
// non-positive row count becomes dataset.DefaultRowCount, and a count above
// dataset.MaxRowCount is capped. An empty prompt
// is accepted; the pipeline falls back to its default schema.
func (r *CreateRequest) Normalize() {
	if r.Kind == "" {
		r.Kind = KindGenerate
	}
	r.RowCount = dataset.ClampRowCount(r.RowCount)
}

// Validate checks the request after Normalize.
func (r *CreateRequest) Validate() error {
	switch r.Kind {
	case KindGenerate:
	case KindExtend, KindFill:
		if r.InputRef == "" {
			return fmt.Errorf("%w: %w", domain.ErrValidation, ErrInputRequired)
		}
	default:
		return fmt.Errorf("%w: %w %q", domain.ErrValidation, ErrUnknownKind, r.Kind)
	}
	return nil
}
