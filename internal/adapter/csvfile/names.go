package csvfile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TabForge/internal/domain"
)

const (
	resultPrefix = "synthetic_"
	uploadPrefix = "upload_"
	extension    = ".csv"

	// ResultsDir and UploadsDir are the sub-directories (or key prefixes)
	// holding generated tables and uploaded inputs.
	ResultsDir = "results"
	UploadsDir = "uploads"
)

// NewResultName returns a result file name: synthetic_<timestamp>_<id>.csv.
// The uuid fragment keeps names from concurrent jobs apart.
func NewResultName(now time.Time) string {
	return fmt.Sprintf("%s%s_%s%s", resultPrefix, now.Format("20060102_150405"), shortID(), extension)
}

// NewUploadName returns a name for an uploaded input table.
func NewUploadName() string {
	return uploadPrefix + uuid.NewString() + extension
}

// IsUpload reports whether name refers to an uploaded input.
func IsUpload(name string) bool {
	return strings.HasPrefix(name, uploadPrefix)
}

// Locate validates name and returns the directory (or key prefix) it lives
// under. Names are plain file names; anything path-like is rejected.
func Locate(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") ||
		!strings.HasSuffix(name, extension) {
		return "", fmt.Errorf("%w: invalid table name %q", domain.ErrValidation, name)
	}
	switch {
	case strings.HasPrefix(name, resultPrefix):
		return ResultsDir, nil
	case IsUpload(name):
		return UploadsDir, nil
	}
	return "", fmt.Errorf("%w: table %q", domain.ErrNotFound, name)
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
