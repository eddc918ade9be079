package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dashclip/dashclip-agent/internal/logging"
)

const maxErrorBody = 4096

// HTTPError is a non-2xx response from the object storage API.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and rate limiting.
// Other client errors (4xx) are considered permanent.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// HTTPConfig configures the REST object storage backend.
type HTTPConfig struct {
	BaseURL string
	Bucket  string
	Token   string
	Timeout time.Duration // per request; default 10m
}

// HTTP talks to an object storage REST API:
// GET and PUT {base}/object/{bucket}/{path}, authenticated with a bearer
// token.
type HTTP struct {
	baseURL    string
	bucket     string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTP(cfg HTTPConfig, logger *slog.Logger) (*HTTP, error) {
	if cfg.BaseURL == "" || cfg.Bucket == "" {
		return nil, errors.New("http storage requires a base URL and a bucket")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid storage URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTP{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		bucket:  cfg.Bucket,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.WithComponent(logging.OrDiscard(logger), "storage.http"),
	}, nil
}

func (h *HTTP) objectURL(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/object/%s/%s", h.baseURL, url.PathEscape(h.bucket), strings.Join(segs, "/"))
}

func (h *HTTP) newRequest(ctx context.Context, method, key string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.objectURL(key), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

func (h *HTTP) Download(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := cleanKey(p)
	if err != nil {
		return nil, err
	}
	req, err := h.newRequest(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}
	defer resp.Body.Close()
	return nil, readHTTPError(resp, key)
}

func (h *HTTP) Upload(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	key, err := cleanKey(p)
	if err != nil {
		return err
	}
	req, err := h.newRequest(ctx, http.MethodPut, key, r)
	if err != nil {
		return err
	}
	if size >= 0 {
		req.ContentLength = size
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	h.logger.Debug("uploading object", "path", key, "bytes", size)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	return readHTTPError(resp, key)
}

func readHTTPError(resp *http.Response, key string) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		Method:     resp.Request.Method,
		Path:       key,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
