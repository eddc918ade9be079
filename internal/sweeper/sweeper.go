// Package sweeper re-submits videos left in processing by a run that never
// finished, for example because the agent was killed mid-run.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dashclip/dashclip-agent/internal/catalog"
	"github.com/dashclip/dashclip-agent/internal/logging"
	"github.com/dashclip/dashclip-agent/internal/pipeline"
)

const DefaultSchedule = "@every 5m"

// StaleLister finds videos stuck in processing.
type StaleLister interface {
	ListStale(ctx context.Context, updatedBefore time.Time) ([]*catalog.Video, error)
}

// Submitter is satisfied by *pipeline.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request, mode pipeline.Mode) (*pipeline.Result, error)
}

type Config struct {
	// StaleAfter is how long a row may sit in processing; zero disables
	// the sweeper.
	StaleAfter time.Duration
	// Schedule is a cron spec or descriptor such as "@every 5m".
	Schedule string
}

type Sweeper struct {
	cfg       Config
	lister    StaleLister
	submitter Submitter
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time

	mu        sync.Mutex
	submitted map[string]time.Time
}

func New(cfg Config, lister StaleLister, submitter Submitter, logger *slog.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return &Sweeper{
		cfg:       cfg,
		lister:    lister,
		submitter: submitter,
		logger:    logging.WithComponent(logging.OrDiscard(logger), "sweeper"),
		cron:      cron.New(),
		now:       time.Now,
		submitted: map[string]time.Time{},
	}, nil
}

func (s *Sweeper) Enabled() bool {
	return s.cfg.StaleAfter > 0
}

// Start schedules sweeps. It is a no-op when the sweeper is disabled.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("stale sweeper disabled")
		return nil
	}
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("stale sweeper started", "schedule", s.cfg.Schedule, "stale_after", s.cfg.StaleAfter.String())
	return nil
}

// Stop stops scheduling and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep re-submits every stale video once and returns how many were
// submitted. A video submitted by an earlier sweep is skipped until another
// StaleAfter has passed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	now := s.now()
	videos, err := s.lister.ListStale(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale videos: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.submitted {
		if now.Sub(at) >= s.cfg.StaleAfter {
			delete(s.submitted, id)
		}
	}

	count := 0
	for _, v := range videos {
		if _, recent := s.submitted[v.ID]; recent {
			continue
		}
		req := pipeline.Request{
			VideoID:    v.ID,
			SourcePath: v.StoragePath,
			OwnerID:    v.OwnerID,
			CameraType: v.CameraType,
		}
		if _, err := s.submitter.Submit(ctx, req, pipeline.ModeBackground); err != nil {
			s.logger.Error("failed to resubmit stale video", "video_id", v.ID, "error", err)
			continue
		}
		s.submitted[v.ID] = now
		count++
		s.logger.Warn("resubmitted stale video",
			"video_id", v.ID,
			"stuck_for", now.Sub(v.UpdatedAt).Round(time.Second).String(),
		)
	}
	return count, nil
}
