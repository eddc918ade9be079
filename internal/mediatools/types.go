// Package mediatools runs the external media tools the agent depends on
// (ffprobe, exiftool, ffmpeg) as bounded subprocesses and parses their output.
package mediatools

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dashclip/dashclip-agent/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

	// DefaultSegmentLength is the clip length the pipeline cuts videos into.
	DefaultSegmentLength = 10 * time.Second
)

// Config holds tool locations and per-tool timeouts.
type Config struct {
	FFprobePath    string
	FFmpegPath     string
	ExifToolPath   string
	ProbeTimeout   time.Duration // ffprobe, both full and stream-only queries
	ExtractTimeout time.Duration // exiftool GPS extraction
	SegmentTimeout time.Duration // ffmpeg segmentation
	Logger         *slog.Logger
	DebugPaths     bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production defaults: tools resolved from PATH.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFprobePath:    "ffprobe",
		FFmpegPath:     "ffmpeg",
		ExifToolPath:   "exiftool",
		ProbeTimeout:   60 * time.Second,
		ExtractTimeout: 120 * time.Second,
		SegmentTimeout: 15 * time.Minute,
		Logger:         logger,
	}
}

func (c Config) logger() *slog.Logger {
	return logging.OrDiscard(c.Logger)
}

// RunResult is the structured outcome of one tool invocation.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     []byte        `json:"-"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ToolError reports a failed or timed-out tool invocation.
type ToolError struct {
	Tool       string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *ToolError) Error() string {
	switch {
	case e.Err != nil:
		// start failures and timeouts carry their cause in Err, not stderr
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	case e.StderrTail != "":
		return fmt.Sprintf("%s exited %d: %s", e.Tool, e.ExitCode, truncate(e.StderrTail, 512))
	default:
		return fmt.Sprintf("%s exited %d", e.Tool, e.ExitCode)
	}
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
