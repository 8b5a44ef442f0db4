package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var extensionByFormat = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"bmp":  ".bmp",
	"tiff": ".tiff",
}

// Stager owns the transient staging directory. Every staged file is named by a
// fresh UUID and removed before WithStagedFile returns.
type Stager struct {
	dir    string
	logger *zap.Logger
}

// NewStager creates dir if needed.
func NewStager(dir string, logger *zap.Logger) (*Stager, error) {
	if dir == "" {
		return nil, errors.New("staging directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &Stager{dir: dir, logger: logger.Named("stager")}, nil
}

// Dir returns the staging directory.
func (s *Stager) Dir() string { return s.dir }

// WithStagedFile writes buf to a request-scoped file, calls fn with its path and
// removes the file on every exit path, including when fn fails or panics.
func (s *Stager) WithStagedFile(ctx context.Context, buf *Buffer, fn func(path string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ext, ok := extensionByFormat[buf.Format]
	if !ok {
		ext = ".img"
	}
	path := filepath.Join(s.dir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create staged file: %w", err)
	}
	defer s.remove(path)

	if _, err := f.Write(buf.Data); err != nil {
		f.Close()
		return fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close staged file: %w", err)
	}

	return fn(path)
}

func (s *Stager) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Error("failed to remove staged file", zap.String("path", path), zap.Error(err))
	}
}
