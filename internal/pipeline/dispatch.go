package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dashclip/dashclip-agent/internal/logging"
)

// Mode selects how a submitted request runs.
type Mode string

const (
	// ModeSync runs the pipeline in the caller's goroutine and returns its
	// result.
	ModeSync Mode = "sync"
	// ModeBackground queues the request and returns immediately.
	ModeBackground Mode = "background"
)

// ParseMode parses "sync" or "background"; empty yields def.
func ParseMode(s string, def Mode) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case ModeSync:
		return ModeSync, nil
	case ModeBackground:
		return ModeBackground, nil
	}
	return "", fmt.Errorf("unknown processing mode %q", s)
}

// Processor runs one request to completion.
type Processor interface {
	Process(ctx context.Context, req Request) (*Result, error)
}

// JobQueue accepts requests for background processing.
type JobQueue interface {
	Enqueue(ctx context.Context, req Request) error
}

// Dispatcher is the single entry point for triggering processing, in either
// mode.
type Dispatcher struct {
	processor Processor
	queue     JobQueue
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. queue may be nil when only ModeSync
// is used.
func NewDispatcher(processor Processor, queue JobQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		processor: processor,
		queue:     queue,
		logger:    logging.WithComponent(logging.OrDiscard(logger), "dispatcher"),
	}
}

// Submit runs req according to mode. In ModeSync it returns the run's
// result and error. In ModeBackground it validates req, queues it and
// returns a nil result.
func (d *Dispatcher) Submit(ctx context.Context, req Request, mode Mode) (*Result, error) {
	switch mode {
	case ModeSync:
		return d.processor.Process(ctx, req)

	case ModeBackground:
		if err := req.Validate(); err != nil {
			return nil, err
		}
		if d.queue == nil {
			return nil, fmt.Errorf("background processing is not configured")
		}
		if err := d.queue.Enqueue(ctx, req); err != nil {
			return nil, fmt.Errorf("enqueue video %s: %w", req.VideoID, err)
		}
		d.logger.Info("processing queued", "video_id", req.VideoID, "force", req.Force)
		return nil, nil
	}

	return nil, fmt.Errorf("unknown processing mode %q", mode)
}
