// Command clipctl processes one local dash-cam video synchronously against
// local storage and the agent database, then prints a summary of the clips
// it produced.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/dashclip/dashclip-agent/internal/catalog"
	"github.com/dashclip/dashclip-agent/internal/config"
	"github.com/dashclip/dashclip-agent/internal/db"
	"github.com/dashclip/dashclip-agent/internal/logging"
	"github.com/dashclip/dashclip-agent/internal/mediatools"
	"github.com/dashclip/dashclip-agent/internal/pipeline"
	"github.com/dashclip/dashclip-agent/internal/storage"
)

func main() {
	var (
		owner    = flag.String("owner", "local", "Owner id recorded for the video")
		camera   = flag.String("camera", "", "Camera type recorded for the video")
		force    = flag.Bool("force", false, "Reprocess a video that already completed")
		noColor  = flag.Bool("no-color", false, "Disable colored output")
		logLevel = flag.String("log-level", "", "Log level (debug, info, warn, error); defaults to the agent setting")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: clipctl [flags] <video file>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *noColor {
		color.NoColor = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		file:     flag.Arg(0),
		owner:    *owner,
		camera:   *camera,
		force:    *force,
		logLevel: *logLevel,
	}
	if err := run(ctx, opts, os.Stdout); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	file     string
	owner    string
	camera   string
	force    bool
	logLevel string
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := opts.logLevel
	if level == "" {
		level = cfg.LogLevel()
	}
	logger := logging.NewLoggerTo(os.Stderr, level)

	for _, dir := range []string{cfg.DataDir(), cfg.ScratchDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())
	svc := catalog.NewService(repo, logger)

	store, err := storage.NewLocal(cfg.StorageDir(), logger)
	if err != nil {
		return err
	}

	video, err := importFile(ctx, svc, store, opts)
	if err != nil {
		return err
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
	pipe := pipeline.New(pipeline.Config{
		ScratchDir: cfg.ScratchDir(),
		Logger:     logger,
	}, repo, store, pipeline.Tools{
		Prober:    mediatools.NewFFprobe(toolCfg),
		Extractor: mediatools.NewExifTool(toolCfg),
		Segmenter: mediatools.NewFFmpegSegmenter(toolCfg),
	})

	started := time.Now()
	result, runErr := pipeline.NewDispatcher(pipe, nil, logger).Submit(ctx, pipeline.Request{
		VideoID:    video.ID,
		SourcePath: video.StoragePath,
		OwnerID:    video.OwnerID,
		CameraType: video.CameraType,
		Force:      opts.force,
	}, pipeline.ModeSync)
	if result == nil {
		return runErr
	}

	clips, err := repo.ListClips(ctx, video.ID)
	if err != nil {
		return fmt.Errorf("list clips: %w", err)
	}
	printSummary(out, result, clips, cfg.StorageDir(), time.Since(started))
	return runErr
}

// importFile stores the file under uploads/<id>/ and registers it, or
// returns the video already registered for the same content and owner.
func importFile(ctx context.Context, svc *catalog.Service, store storage.Storage, opts options) (*catalog.Video, error) {
	info, err := os.Stat(opts.file)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", opts.file)
	}
	if !catalog.IsVideoFile(opts.file) {
		return nil, fmt.Errorf("%s does not look like a video file", opts.file)
	}

	fp, err := catalog.ComputeFingerprint(opts.file)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	if existing, err := svc.LookupFingerprint(ctx, opts.owner, fp); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	id := catalog.NewID()
	key := path.Join("uploads", id, filepath.Base(opts.file))

	f, err := os.Open(opts.file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(opts.file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := store.Upload(ctx, key, f, info.Size(), contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	return svc.RegisterUpload(ctx, catalog.Upload{
		ID:          id,
		StoragePath: key,
		OwnerID:     opts.owner,
		CameraType:  opts.camera,
		FileSize:    info.Size(),
		Fingerprint: fp,
	})
}

func printSummary(w io.Writer, res *pipeline.Result, clips []*catalog.Clip, storageDir string, elapsed time.Duration) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	bold.Fprintf(w, "Video %s\n", res.VideoID)
	switch res.Status {
	case catalog.StatusCompleted:
		green.Fprintf(w, "  status:     %s\n", res.Status)
	case catalog.StatusFailed:
		red.Fprintf(w, "  status:     %s\n", res.Status)
		red.Fprintf(w, "  error:      %s\n", res.Error)
	default:
		yellow.Fprintf(w, "  status:     %s\n", res.Status)
	}
	fmt.Fprintf(w, "  duration:   %.2fs\n", res.Duration)
	if !res.RecordedAt.IsZero() {
		fmt.Fprintf(w, "  recorded:   %s (%s)\n", res.RecordedAt.UTC().Format(time.RFC3339Nano), res.StartSource)
	}
	fmt.Fprintf(w, "  gps points: %d\n", res.GPSPoints)
	fmt.Fprintf(w, "  clips:      %d accepted", res.Clips)
	if res.RejectedClips > 0 {
		yellow.Fprintf(w, ", %d rejected", res.RejectedClips)
	}
	if res.SkippedClips > 0 {
		red.Fprintf(w, ", %d skipped", res.SkippedClips)
	}
	fmt.Fprintln(w)

	for _, c := range clips {
		cyan.Fprintf(w, "  [%02d]", c.Index)
		fmt.Fprintf(w, " %6.2fs %3d gps  %s\n", c.Duration, len(c.GPS), filepath.Join(storageDir, filepath.FromSlash(c.StoragePath)))
	}
	fmt.Fprintf(w, "  took %s\n", elapsed.Round(time.Millisecond))
}
