package mediatools

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dashclip/dashclip-agent/internal/logging"
)

const (
	defaultCacheTTL      = 5 * time.Minute
	defaultDoctorTimeout = 10 * time.Second
)

// ToolStatus is the availability of one external tool.
type ToolStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports which tools the pipeline can use.
type Capabilities struct {
	Tools    map[string]ToolStatus `json:"tools"`
	AllOK    bool                  `json:"all_ok"`
	ProbedAt time.Time             `json:"probed_at"`
}

// Checker probes tool availability.
type Checker interface {
	Check(ctx context.Context) (*Capabilities, error)
}

// ToolChecker runs each configured tool with its version flag.
type ToolChecker struct {
	cfg    Config
	runner commandRunner
}

// NewToolChecker creates a ToolChecker for the tools in cfg.
func NewToolChecker(cfg Config) *ToolChecker {
	return &ToolChecker{
		cfg:    cfg,
		runner: commandRunner{logger: cfg.logger(), debugPaths: cfg.DebugPaths},
	}
}

// Check runs every tool. A missing tool is reported in its ToolStatus, not
// as an error.
func (c *ToolChecker) Check(ctx context.Context) (*Capabilities, error) {
	tools := []struct {
		name string
		path string
		flag string
	}{
		{"ffprobe", c.cfg.FFprobePath, "-version"},
		{"ffmpeg", c.cfg.FFmpegPath, "-version"},
		{"exiftool", c.cfg.ExifToolPath, "-ver"},
	}

	caps := &Capabilities{
		Tools:    make(map[string]ToolStatus, len(tools)),
		AllOK:    true,
		ProbedAt: time.Now(),
	}
	for _, t := range tools {
		result, err := c.runner.run(ctx, defaultDoctorTimeout, t.path, t.flag)
		status := ToolStatus{Path: c.runner.safePath(t.path)}
		if err != nil {
			status.Error = err.Error()
			caps.AllOK = false
		} else {
			status.Available = true
			status.Version = parseVersion(t.name, string(result.Stdout))
		}
		caps.Tools[t.name] = status
	}

	c.cfg.logger().Info("tool probe complete", "all_ok", caps.AllOK)
	return caps, nil
}

// parseVersion pulls the version out of the first output line:
// "ffmpeg version 6.1.1 Copyright ..." or exiftool's bare "12.76".
func parseVersion(name, out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == name && fields[1] == "version" {
		return fields[2]
	}
	if len(fields) == 1 {
		return fields[0]
	}
	return line
}

// CachedDoctor wraps a Checker and caches its result for a TTL.
type CachedDoctor struct {
	checker Checker
	ttl     time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around tool probes.
func NewCachedDoctor(checker Checker, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		checker: checker,
		ttl:     defaultCacheTTL,
		logger:  logging.OrDiscard(logger),
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the last result without probing; nil before the first probe.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.checker.Check(ctx)
	if err != nil {
		d.logger.Warn("tool probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
