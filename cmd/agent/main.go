package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dashclip/dashclip-agent/internal/api"
	"github.com/dashclip/dashclip-agent/internal/catalog"
	"github.com/dashclip/dashclip-agent/internal/config"
	"github.com/dashclip/dashclip-agent/internal/db"
	"github.com/dashclip/dashclip-agent/internal/logging"
	"github.com/dashclip/dashclip-agent/internal/mediatools"
	"github.com/dashclip/dashclip-agent/internal/pipeline"
	"github.com/dashclip/dashclip-agent/internal/queue"
	"github.com/dashclip/dashclip-agent/internal/storage"
	"github.com/dashclip/dashclip-agent/internal/sweeper"
	"github.com/dashclip/dashclip-agent/internal/watcher"
	"github.com/dashclip/dashclip-agent/internal/worker"
)

const deviceIDKey = "device_id"

const (
	// drainTimeout bounds how long background runs may finish after a
	// shutdown signal before they are cancelled and recorded as failed.
	drainTimeout = 30 * time.Second
	// drainGrace leaves cancelled runs time to write their final status.
	drainGrace = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ScratchDir(), 0755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting dashclip agent",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", cfg.DataDir(),
		"mode", cfg.Mode(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	store, err := storage.New(ctx, storage.Config{
		Backend: cfg.StorageBackend(),
		Dir:     cfg.StorageDir(),
		S3: storage.S3Config{
			Bucket:   cfg.S3Bucket(),
			Region:   cfg.S3Region(),
			Endpoint: cfg.S3Endpoint(),
		},
		HTTP: storage.HTTPConfig{
			BaseURL: cfg.HTTPStorageURL(),
			Bucket:  cfg.HTTPStorageBucket(),
			Token:   cfg.HTTPStorageToken(),
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	toolCfg := mediatools.Config{
		FFprobePath:    cfg.FFprobePath(),
		FFmpegPath:     cfg.FFmpegPath(),
		ExifToolPath:   cfg.ExifToolPath(),
		ProbeTimeout:   cfg.TimeoutProbe(),
		ExtractTimeout: cfg.TimeoutExtract(),
		SegmentTimeout: cfg.TimeoutSegment(),
		Logger:         logger,
	}
	doctor := mediatools.NewCachedDoctor(mediatools.NewToolChecker(toolCfg), logger)
	if caps, err := doctor.Refresh(ctx); err != nil {
		logger.Warn("initial tool probe failed", "error", err)
	} else if !caps.AllOK {
		for name, status := range caps.Tools {
			if !status.Available {
				logger.Warn("external tool unavailable", "tool", name, "error", status.Error)
			}
		}
	}

	catalogSvc := catalog.NewService(repo, logger)
	pipe := pipeline.New(pipeline.Config{
		ScratchDir: cfg.ScratchDir(),
		Logger:     logger,
	}, repo, store, pipeline.Tools{
		Prober:    mediatools.NewFFprobe(toolCfg),
		Extractor: mediatools.NewExifTool(toolCfg),
		Segmenter: mediatools.NewFFmpegSegmenter(toolCfg),
	})

	jobs, err := newQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer jobs.Close()

	dispatcher := pipeline.NewDispatcher(pipe, jobs, logger)
	defaultMode, err := pipeline.ParseMode(cfg.Mode(), pipeline.ModeBackground)
	if err != nil {
		return err
	}

	pool := worker.NewPool(jobs, pipe, cfg.Workers(), logger)
	pool.SetDrainTimeout(drainTimeout)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		if err := pool.Run(ctx); err != nil {
			logger.Error("worker pool stopped", "error", err)
		}
	}()

	sweep, err := sweeper.New(sweeper.Config{
		StaleAfter: cfg.StaleAfter(),
		Schedule:   cfg.SweepSchedule(),
	}, repo, dispatcher, logger)
	if err != nil {
		return err
	}
	if err := sweep.Start(ctx); err != nil {
		return err
	}
	defer sweep.Stop()

	if cfg.InboxDir() != "" {
		inbox, err := watcher.New(watcher.Config{
			InboxDir:   cfg.InboxDir(),
			OwnerID:    cfg.InboxOwner(),
			CameraType: cfg.InboxCamera(),
		}, store, catalogSvc, dispatcher, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize inbox watcher: %w", err)
		}
		go func() {
			if err := inbox.Run(ctx); err != nil {
				logger.Error("inbox watcher stopped", "error", err)
			}
		}()
	}

	apiServer := api.NewServer(api.ServerConfig{
		Host:        cfg.Host(),
		Port:        cfg.Port(),
		Catalog:     catalogSvc,
		Settings:    repo,
		Dispatcher:  dispatcher,
		DefaultMode: defaultMode,
		Workers:     pool,
		Doctor:      doctor,
		Logger:      logger,
		StartTime:   startTime,
		DeviceID:    deviceID,
		Version:     config.Version,
	})

	printBanner(apiServer.Addr(), authToken, deviceID, cfg)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	// the pool keeps draining while the HTTP server shuts down
	poolDeadline := time.NewTimer(drainTimeout + drainGrace)
	defer poolDeadline.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	// in-flight runs record their final status before the database closes
	select {
	case <-poolDone:
	case <-poolDeadline.C:
		logger.Warn("worker pool did not stop before shutdown deadline")
	}

	logger.Info("shutdown complete")
	return nil
}

func newQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (queue.Queue, error) {
	if cfg.QueueBackend() != "redis" {
		return queue.NewMemory(queue.DefaultMemoryCapacity), nil
	}

	q, err := queue.NewRedis(queue.RedisConfig{
		Addr: cfg.RedisAddr(),
		Key:  cfg.RedisKey(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis queue: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.Ping(pingCtx); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func printBanner(addr, authToken, deviceID string, cfg config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  %-56s ║\n", "DASHCLIP AGENT v"+config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    %-45s ║\n", "http://"+addr)
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Printf("║  Storage:    %-45s ║\n", cfg.StorageBackend())
	fmt.Printf("║  Queue:      %-45s ║\n", cfg.QueueBackend())
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func ensureDeviceID(ctx context.Context, repo catalog.Repository) (string, error) {
	return ensureSecret(ctx, repo, deviceIDKey, 16)
}

// ensureAuthToken returns the API token, generating one on first start.
func ensureAuthToken(ctx context.Context, repo catalog.Repository) (string, error) {
	return ensureSecret(ctx, repo, api.AuthTokenKey, 32)
}

func ensureSecret(ctx context.Context, repo catalog.Repository, key string, size int) (string, error) {
	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}

	return value, nil
}
