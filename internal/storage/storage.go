// Package storage moves source videos and clips in and out of object
// storage. Paths are slash-separated object keys such as
// "uploads/<videoID>/front.mp4"; each backend maps them onto its own
// namespace.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
)

// Backend names accepted by New.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendHTTP  = "http"
)

// ErrNotFound is returned (wrapped) when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Storage is implemented by every backend.
type Storage interface {
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	Dir     string
	S3      S3Config
	HTTP    HTTPConfig
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Storage, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		return NewLocal(cfg.Dir, logger)
	case BackendS3:
		return NewS3(ctx, cfg.S3, logger)
	case BackendHTTP:
		return NewHTTP(cfg.HTTP, logger)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// cleanKey validates an object path and returns it in canonical form.
// ".." segments and backslashes are rejected outright rather than resolved.
func cleanKey(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("empty object path")
	}
	if strings.Contains(p, `\`) {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid object path %q", p)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return cleaned, nil
}
