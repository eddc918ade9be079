// Package pipeline turns an uploaded dash-cam video into persisted metadata
// and GPS-tagged clips: download, probe, GPS extraction, start time
// resolution, segmentation and clip upload, driven through the video's
// processing status.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dashclip/dashclip-agent/internal/catalog"
	"github.com/dashclip/dashclip-agent/internal/gps"
	"github.com/dashclip/dashclip-agent/internal/logging"
	"github.com/dashclip/dashclip-agent/internal/mediatools"
)

const defaultContentType = "video/mp4"

// VideoStore is the persistence the pipeline drives.
type VideoStore interface {
	GetVideo(ctx context.Context, id string) (*catalog.Video, error)
	UpdateVideoStatus(ctx context.Context, id string, status catalog.VideoStatus, errorMsg string) error
	UpdateVideoMetadata(ctx context.Context, id string, meta catalog.VideoMetadata) error
	// TouchVideo refreshes updated_at while the video is processing.
	TouchVideo(ctx context.Context, id string) error
	UpsertClip(ctx context.Context, clip *catalog.Clip) error
	DeleteClipsFrom(ctx context.Context, videoID string, fromIndex int) (int64, error)
}

// Storage moves source videos and clips in and out of object storage.
type Storage interface {
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
}

// Prober inspects media files.
type Prober interface {
	Probe(ctx context.Context, path string) (*mediatools.ProbeResult, error)
	DurationProber
}

// GPSExtractor reads the embedded GPS track of a media file.
type GPSExtractor interface {
	ExtractGPS(ctx context.Context, path string) (gps.Track, error)
}

// Segmenter cuts a media file into fixed-length pieces in outDir.
type Segmenter interface {
	Split(ctx context.Context, src, outDir string, segment time.Duration) ([]string, error)
}

// Tools bundles the external tool adapters.
type Tools struct {
	Prober    Prober
	Extractor GPSExtractor
	Segmenter Segmenter
}

// Config holds pipeline settings.
type Config struct {
	ScratchDir    string        // root of per-run scratch directories
	SegmentLength time.Duration // default mediatools.DefaultSegmentLength
	Logger        *slog.Logger
}

// Request identifies one video to process.
type Request struct {
	VideoID    string `json:"video_id"`
	SourcePath string `json:"source_path"`
	OwnerID    string `json:"owner_id"`
	CameraType string `json:"camera_type,omitempty"`
	// Force re-processes a video that is already completed.
	Force bool `json:"force,omitempty"`
}

// Validate checks the identifying fields without touching storage.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.VideoID) == "":
		return validationError("video_id is required")
	case strings.TrimSpace(r.SourcePath) == "":
		return validationError("source_path is required")
	case strings.TrimSpace(r.OwnerID) == "":
		return validationError("owner_id is required")
	case r.VideoID == "." || r.VideoID == ".." || strings.ContainsAny(r.VideoID, `/\`):
		return validationError("invalid video_id %q", r.VideoID)
	}
	return nil
}

// Result summarizes a finished run.
type Result struct {
	VideoID       string              `json:"video_id"`
	RunID         string              `json:"run_id"`
	Status        catalog.VideoStatus `json:"status"`
	GPSPoints     int                 `json:"gps_points"`
	Clips         int                 `json:"clips"`
	RejectedClips int                 `json:"rejected_clips"`
	SkippedClips  int                 `json:"skipped_clips"`
	StartSource   string              `json:"start_source,omitempty"`
	RecordedAt    time.Time           `json:"recorded_at,omitempty"`
	Duration      float64             `json:"duration"`
	Error         string              `json:"error,omitempty"`
}

var (
	stepDownload    = step{name: "download source", kind: StepFatal, errKind: KindDownload}
	stepProbe       = step{name: "probe video", kind: StepFatal, errKind: KindProbe}
	stepExtractGPS  = step{name: "extract gps", kind: StepSoft, errKind: KindExtraction}
	stepMetadata    = step{name: "save metadata", kind: StepFatal, errKind: KindPersistence}
	stepSegment     = step{name: "segment video", kind: StepFatal, errKind: KindSegmentation}
	stepUploadClip  = step{name: "upload clip", kind: StepSoft, errKind: KindUpload}
	stepPersistClip = step{name: "save clip", kind: StepSoft, errKind: KindPersistence}
)

// Pipeline processes videos. It holds no per-run state, so one Pipeline
// serves any number of concurrent runs.
type Pipeline struct {
	cfg     Config
	store   VideoStore
	storage Storage
	tools   Tools
	logger  *slog.Logger

	now      func() time.Time
	newRunID func() string
}

// New creates a Pipeline.
func New(cfg Config, store VideoStore, storage Storage, tools Tools) *Pipeline {
	if cfg.SegmentLength <= 0 {
		cfg.SegmentLength = mediatools.DefaultSegmentLength
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "dashclip")
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		storage:  storage,
		tools:    tools,
		logger:   logging.WithComponent(logging.OrDiscard(cfg.Logger), "pipeline"),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// Process runs the full pipeline for one video. Validation failures return
// before any state change. Otherwise the video ends completed, or failed
// with the first fatal error's message, which is also returned.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	video, err := p.store.GetVideo(ctx, req.VideoID)
	if err != nil {
		return nil, newError(KindPersistence, "load video", err)
	}
	if video == nil {
		return nil, validationError("video %s not found", req.VideoID)
	}
	if video.Status == catalog.StatusCompleted && !req.Force {
		return nil, validationError("video %s is already completed", req.VideoID)
	}

	runID := p.newRunID()
	logger := logging.WithRunID(logging.WithVideoID(p.logger, req.VideoID), runID)

	if err := p.store.UpdateVideoStatus(ctx, req.VideoID, catalog.StatusProcessing, ""); err != nil {
		return nil, newError(KindPersistence, "mark processing", err)
	}
	logger.Info("processing started",
		"previous_status", string(video.Status),
		"camera_type", req.CameraType,
		"force", req.Force,
	)

	started := time.Now()
	res := &Result{VideoID: req.VideoID, RunID: runID}
	runErr := p.run(ctx, logger, req, runID, res)

	// the run's outcome is recorded even when the caller has gone away
	final := context.WithoutCancel(ctx)

	if runErr != nil {
		res.Status = catalog.StatusFailed
		res.Error = runErr.Error()
		if err := p.store.UpdateVideoStatus(final, req.VideoID, catalog.StatusFailed, runErr.Error()); err != nil {
			logger.Error("failed to record processing failure", "error", err)
		}
		logger.Error("processing failed",
			"kind", string(KindOf(runErr)),
			"error", runErr,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return res, runErr
	}

	if err := p.store.UpdateVideoStatus(final, req.VideoID, catalog.StatusCompleted, ""); err != nil {
		perr := newError(KindPersistence, "mark completed", err)
		res.Status = catalog.StatusProcessing
		res.Error = perr.Error()
		logger.Error("failed to record completion", "error", err)
		return res, perr
	}
	res.Status = catalog.StatusCompleted

	logger.Info("processing completed",
		"gps_points", res.GPSPoints,
		"clips", res.Clips,
		"rejected_clips", res.RejectedClips,
		"skipped_clips", res.SkippedClips,
		"start_source", res.StartSource,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

// run executes the steps in a scratch arena that is removed on every exit
// path. A panic is recovered into a fatal error.
func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, req Request, runID string, res *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during processing", "panic", r, "stack", string(debug.Stack()))
			err = newError(KindInternal, "panic", fmt.Errorf("%v", r))
		}
	}()

	scratch, aerr := newArena(p.cfg.ScratchDir, req.VideoID, runID)
	if aerr != nil {
		return newError(KindInternal, "prepare scratch", aerr)
	}
	defer scratch.release(logger)

	src := runStep(ctx, logger, stepDownload, "", func(ctx context.Context) (string, error) {
		return p.download(ctx, req.SourcePath, scratch)
	})
	if src.outcome == OutcomeFatal {
		return src.err
	}

	probe := runStep(ctx, logger, stepProbe, nil, func(ctx context.Context) (*mediatools.ProbeResult, error) {
		return p.tools.Prober.Probe(ctx, src.value)
	})
	if probe.outcome == OutcomeFatal {
		return probe.err
	}

	track := runStep(ctx, logger, stepExtractGPS, gps.Track{}, func(ctx context.Context) (gps.Track, error) {
		return p.tools.Extractor.ExtractGPS(ctx, src.value)
	}).value
	if track == nil {
		track = gps.Track{}
	}
	if len(track) == 0 {
		logger.Info("no gps samples found")
	}

	start := ResolveStartTime(probe.value.Tags, track, p.now)
	res.GPSPoints = len(track)
	res.StartSource = start.Source
	res.RecordedAt = start.Time
	res.Duration = probe.value.Duration
	logger.Debug("start time resolved", "recorded_at", start.Time, "source", start.Source)

	meta := runStep(ctx, logger, stepMetadata, struct{}{}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.store.UpdateVideoMetadata(ctx, req.VideoID, catalog.VideoMetadata{
			Duration:    probe.value.Duration,
			RecordedAt:  start.Time,
			RawMetadata: probe.value.Raw,
		})
	})
	if meta.outcome == OutcomeFatal {
		return meta.err
	}

	p.heartbeat(ctx, logger, req.VideoID)
	segments := runStep(ctx, logger, stepSegment, nil, func(ctx context.Context) ([]string, error) {
		return p.tools.Segmenter.Split(ctx, src.value, scratch.path("segments"), p.cfg.SegmentLength)
	})
	if segments.outcome == OutcomeFatal {
		return segments.err
	}

	accepted := AcceptClips(ctx, p.tools.Prober, segments.value, p.cfg.SegmentLength, logger)
	if ctx.Err() != nil {
		return newError(KindSegmentation, "measure segments", ctx.Err())
	}
	res.RejectedClips = len(segments.value) - len(accepted)

	windows := AssociateGPS(start.Time, p.cfg.SegmentLength, len(accepted), track)
	for i, clip := range accepted {
		if ctx.Err() != nil {
			return newError(KindUpload, "upload clips", ctx.Err())
		}
		p.heartbeat(ctx, logger, req.VideoID)
		if p.storeClip(ctx, logger.With("clip_index", i), req.VideoID, i, clip, windows[i]) {
			res.Clips++
		} else {
			res.SkippedClips++
		}
	}

	// rows past the last accepted index belong to an earlier, longer run
	pruned, err := p.store.DeleteClipsFrom(ctx, req.VideoID, len(accepted))
	if err != nil {
		return newError(KindPersistence, "prune stale clips", err)
	}
	if pruned > 0 {
		logger.Info("removed clips from earlier run", "count", pruned, "from_index", len(accepted))
	}

	return nil
}

// heartbeat marks the run as alive for the stale sweeper. Failure only
// costs freshness, so it is logged and ignored.
func (p *Pipeline) heartbeat(ctx context.Context, logger *slog.Logger, videoID string) {
	if err := p.store.TouchVideo(ctx, videoID); err != nil {
		logger.Warn("failed to refresh processing heartbeat", "error", err)
	}
}

// storeClip uploads one accepted clip and records it. Failures are soft:
// it reports whether the clip made it.
func (p *Pipeline) storeClip(ctx context.Context, logger *slog.Logger, videoID string, index int, clip AcceptedClip, points []gps.Point) bool {
	storagePath := ClipStoragePath(videoID, index, filepath.Ext(clip.Path))

	up := runStep(ctx, logger, stepUploadClip, struct{}{}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.uploadFile(ctx, clip.Path, storagePath)
	})
	if up.outcome != OutcomeOK {
		return false
	}

	saved := runStep(ctx, logger, stepPersistClip, struct{}{}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.store.UpsertClip(ctx, &catalog.Clip{
			VideoID:     videoID,
			Index:       index,
			StoragePath: storagePath,
			Duration:    clip.Duration,
			GPS:         points,
		})
	})
	return saved.outcome == OutcomeOK
}

// ClipStoragePath is the object path of clip index of a video:
// clips/<videoID>/00000.mp4.
func ClipStoragePath(videoID string, index int, ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	return path.Join("clips", videoID, fmt.Sprintf("%05d%s", index, strings.ToLower(ext)))
}

func (p *Pipeline) download(ctx context.Context, sourcePath string, scratch *arena) (string, error) {
	rc, err := p.storage.Download(ctx, sourcePath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	ext := strings.ToLower(path.Ext(sourcePath))
	if ext == "" {
		ext = ".mp4"
	}
	local := scratch.path("source" + ext)

	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("cannot create local copy: %w", err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("cannot copy %s: %w", sourcePath, err)
	}
	if n == 0 {
		return "", fmt.Errorf("source %s is empty", sourcePath)
	}
	return local, nil
}

func (p *Pipeline) uploadFile(ctx context.Context, localPath, storagePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	contentType := mime.TypeByExtension(path.Ext(storagePath))
	if contentType == "" {
		contentType = defaultContentType
	}
	return p.storage.Upload(ctx, storagePath, f, info.Size(), contentType)
}
