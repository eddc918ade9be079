package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dashclip/dashclip-agent/internal/logging"
)

// Local stores objects as files under a base directory.
type Local struct {
	baseDir string
	logger  *slog.Logger
}

// NewLocal creates the base directory if needed.
func NewLocal(baseDir string, logger *slog.Logger) (*Local, error) {
	if baseDir == "" {
		return nil, errors.New("local storage requires a base directory")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("cannot create storage dir: %w", err)
	}
	return &Local{
		baseDir: abs,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "storage.local"),
	}, nil
}

// BaseDir returns the absolute base directory.
func (l *Local) BaseDir() string {
	return l.baseDir
}

func (l *Local) resolve(p string) (string, error) {
	key, err := cleanKey(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.baseDir, filepath.FromSlash(key)), nil
}

func (l *Local) Download(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Upload writes to a temporary file next to the target and renames it into
// place, so readers never see a partial object.
func (l *Local) Upload(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("cannot create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("cannot write %s: %w", p, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("short write for %s: wrote %d of %d bytes", p, n, size)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("cannot move %s into place: %w", p, err)
	}

	l.logger.Debug("object stored", "path", p, "bytes", n, "content_type", contentType)
	return nil
}
