// Package worker drains the background queue with a fixed number of
// concurrent pipeline runs.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dashclip/dashclip-agent/internal/logging"
	"github.com/dashclip/dashclip-agent/internal/pipeline"
	"github.com/dashclip/dashclip-agent/internal/queue"
)

// Source hands out queued jobs.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int32 `json:"active"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Running   bool  `json:"running"`
	Paused    bool  `json:"paused"`
}

type Pool struct {
	source       Source
	processor    pipeline.Processor
	workers      int
	logger       *slog.Logger
	pollInterval time.Duration
	drainTimeout time.Duration

	running   atomic.Bool
	paused    atomic.Bool
	active    atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64
}

func NewPool(source Source, processor pipeline.Processor, workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		source:       source,
		processor:    processor,
		workers:      workers,
		logger:       logging.WithComponent(logging.OrDiscard(logger), "worker"),
		pollInterval: time.Second,
	}
}

// SetDrainTimeout sets how long runs in flight may keep going after Run's
// context is cancelled. Zero cancels them together with intake.
func (p *Pool) SetDrainTimeout(d time.Duration) {
	p.drainTimeout = d
}

// Run blocks until ctx is done or the source is closed, then waits for the
// runs in flight. Cancelling ctx stops intake at once; the runs themselves
// are cancelled only when the drain timeout passes.
func (p *Pool) Run(ctx context.Context) error {
	if p.running.Swap(true) {
		return errors.New("worker pool already running")
	}
	defer p.running.Store(false)

	p.logger.Info("worker pool started", "workers", p.workers, "drain_timeout", p.drainTimeout.String())

	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()
	stopDrain := context.AfterFunc(ctx, func() {
		if active := p.active.Load(); active > 0 {
			p.logger.Info("draining runs in flight", "active", active)
		}
		if p.drainTimeout <= 0 {
			cancelRuns()
			return
		}
		time.AfterFunc(p.drainTimeout, cancelRuns)
	})
	defer stopDrain()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			return p.work(gctx, runCtx, id)
		})
	}
	err := g.Wait()

	p.logger.Info("worker pool stopped",
		"processed", p.processed.Load(),
		"failed", p.failed.Load(),
	)
	return err
}

// work takes jobs while ctx is live and runs each under runCtx.
func (p *Pool) work(ctx, runCtx context.Context, id int) error {
	logger := p.logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if p.paused.Load() {
			if !sleep(ctx, p.pollInterval) {
				return nil
			}
			continue
		}

		job, err := p.source.Dequeue(ctx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			logger.Error("failed to dequeue job", "error", err)
			if !sleep(ctx, p.pollInterval) {
				return nil
			}
			continue
		}

		p.handle(runCtx, logger, job)
	}
}

func (p *Pool) handle(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	logger = logging.WithVideoID(logger.With("job_id", job.ID), job.Request.VideoID)
	logger.Info("job started", "queued_ms", time.Since(job.EnqueuedAt).Milliseconds())

	res, err := p.processor.Process(ctx, job.Request)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
		level := slog.LevelError
		if errors.Is(err, pipeline.ErrValidation) {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "job failed", "kind", string(pipeline.KindOf(err)), "error", err)
		return
	}
	logger.Info("job finished", "status", string(res.Status), "clips", res.Clips)
}

// Pause stops workers from taking new jobs. Runs in flight finish.
func (p *Pool) Pause() {
	p.paused.Store(true)
	p.logger.Info("worker pool paused")
}

func (p *Pool) Resume() {
	p.paused.Store(false)
	p.logger.Info("worker pool resumed")
}

func (p *Pool) IsPaused() bool {
	return p.paused.Load()
}

func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Active:    p.active.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Running:   p.running.Load(),
		Paused:    p.paused.Load(),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
