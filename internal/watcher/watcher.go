// Package watcher ingests video files dropped into an inbox directory:
// each file is uploaded to storage, registered, and queued for processing.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dashclip/dashclip-agent/internal/catalog"
	"github.com/dashclip/dashclip-agent/internal/logging"
	"github.com/dashclip/dashclip-agent/internal/pipeline"
)

const (
	DefaultSettleDelay = 2 * time.Second
	processedDirName   = ".processed"
)

// Uploader writes objects to storage.
type Uploader interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
}

// Registrar records uploads in the catalog.
type Registrar interface {
	RegisterUpload(ctx context.Context, upload catalog.Upload) (*catalog.Video, error)
	LookupFingerprint(ctx context.Context, ownerID, fingerprint string) (*catalog.Video, error)
}

// Submitter is satisfied by *pipeline.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request, mode pipeline.Mode) (*pipeline.Result, error)
}

type Config struct {
	InboxDir   string
	OwnerID    string
	CameraType string
	// SettleDelay is how long a file must go without writes before it is
	// ingested.
	SettleDelay time.Duration
}

type Watcher struct {
	cfg       Config
	uploader  Uploader
	registrar Registrar
	submitter Submitter
	logger    *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	ready  chan string
}

func New(cfg Config, uploader Uploader, registrar Registrar, submitter Submitter, logger *slog.Logger) (*Watcher, error) {
	if cfg.InboxDir == "" {
		return nil, errors.New("watcher requires an inbox directory")
	}
	if cfg.OwnerID == "" {
		return nil, errors.New("watcher requires an owner id")
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Watcher{
		cfg:       cfg,
		uploader:  uploader,
		registrar: registrar,
		submitter: submitter,
		logger:    logging.WithComponent(logging.OrDiscard(logger), "watcher"),
		timers:    map[string]*time.Timer{},
		ready:     make(chan string, 64),
	}, nil
}

// Run watches the inbox until ctx is done. Files already present when it
// starts are ingested too.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.InboxDir, 0755); err != nil {
		return fmt.Errorf("cannot create inbox: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.InboxDir); err != nil {
		return fmt.Errorf("cannot watch %s: %w", w.cfg.InboxDir, err)
	}
	w.logger.Info("watching inbox", "dir", logging.SanitizePath(w.cfg.InboxDir))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.ingestLoop(ctx)
	}()
	defer func() {
		w.stopTimers()
		wg.Wait()
	}()

	w.scanExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopping")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && catalog.IsVideoFile(event.Name) {
				w.schedule(ctx, event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.InboxDir)
	if err != nil {
		w.logger.Error("cannot list inbox", "error", err)
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() && catalog.IsVideoFile(e.Name()) {
			w.schedule(ctx, filepath.Join(w.cfg.InboxDir, e.Name()))
		}
	}
}

// schedule (re)arms the settle timer of p. A file still being copied keeps
// pushing its timer back.
func (w *Watcher) schedule(ctx context.Context, p string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[p]; ok {
		t.Reset(w.cfg.SettleDelay)
		return
	}
	w.timers[p] = time.AfterFunc(w.cfg.SettleDelay, func() {
		w.mu.Lock()
		delete(w.timers, p)
		w.mu.Unlock()
		select {
		case w.ready <- p:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

func (w *Watcher) ingestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-w.ready:
			if err := w.Ingest(ctx, p); err != nil {
				w.logger.Error("ingest failed", "file", filepath.Base(p), "error", err)
			}
		}
	}
}

// Ingest uploads one inbox file, registers it and submits it for
// background processing. A file whose fingerprint is already registered
// for the owner is not uploaded again. Ingested files are moved to the
// inbox's .processed directory.
func (w *Watcher) Ingest(ctx context.Context, localPath string) error {
	info, err := os.Stat(localPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return nil
	}

	name := filepath.Base(localPath)
	logger := w.logger.With("file", name)

	fp, err := catalog.ComputeFingerprint(localPath)
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", name, err)
	}
	existing, err := w.registrar.LookupFingerprint(ctx, w.cfg.OwnerID, fp)
	if err != nil {
		return fmt.Errorf("lookup fingerprint: %w", err)
	}
	if existing != nil {
		logger.Info("file already registered, skipping", "video_id", existing.ID)
		return w.markProcessed(localPath)
	}

	id := catalog.NewID()
	key := path.Join("uploads", id, name)
	if err := w.upload(ctx, localPath, key, info.Size()); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	video, err := w.registrar.RegisterUpload(ctx, catalog.Upload{
		ID:          id,
		StoragePath: key,
		OwnerID:     w.cfg.OwnerID,
		CameraType:  w.cfg.CameraType,
		FileSize:    info.Size(),
		Fingerprint: fp,
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	logger = logging.WithVideoID(logger, video.ID)

	if err := w.markProcessed(localPath); err != nil {
		logger.Warn("cannot move ingested file", "error", err)
	}

	req := pipeline.Request{
		VideoID:    video.ID,
		SourcePath: video.StoragePath,
		OwnerID:    video.OwnerID,
		CameraType: video.CameraType,
	}
	if _, err := w.submitter.Submit(ctx, req, pipeline.ModeBackground); err != nil {
		return fmt.Errorf("submit %s: %w", video.ID, err)
	}

	logger.Info("inbox file ingested", "storage_path", key, "size", info.Size())
	return nil
}

func (w *Watcher) upload(ctx context.Context, localPath, key string, size int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return w.uploader.Upload(ctx, key, f, size, contentType)
}

func (w *Watcher) markProcessed(localPath string) error {
	dir := filepath.Join(w.cfg.InboxDir, processedDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(localPath))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = fmt.Sprintf("%s-%d%s", dst[:len(dst)-len(ext)], time.Now().UnixNano(), ext)
	}
	return os.Rename(localPath, dst)
}
