package mediatools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const segmentPrefix = "segment_"

// FFmpegSegmenter cuts a video into fixed-length pieces without re-encoding.
type FFmpegSegmenter struct {
	cfg    Config
	runner commandRunner
}

// NewFFmpegSegmenter creates a segmenter using cfg.FFmpegPath and
// cfg.SegmentTimeout.
func NewFFmpegSegmenter(cfg Config) *FFmpegSegmenter {
	return &FFmpegSegmenter{
		cfg:    cfg,
		runner: commandRunner{logger: cfg.logger(), debugPaths: cfg.DebugPaths},
	}
}

// Split writes segment_00000<ext>, segment_00001<ext>, ... into outDir and
// returns their paths in lexical (and therefore temporal) order. Streams are
// copied, metadata is carried over and each piece restarts at timestamp zero.
func (s *FFmpegSegmenter) Split(ctx context.Context, src, outDir string, segment time.Duration) ([]string, error) {
	if segment <= 0 {
		return nil, fmt.Errorf("segment length must be positive, got %s", segment)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create segment dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(src))
	if ext == "" {
		ext = ".mp4"
	}
	pattern := filepath.Join(outDir, segmentPrefix+"%05d"+ext)

	_, err := s.runner.run(ctx, s.cfg.SegmentTimeout, s.cfg.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-map", "0:v",
		"-map", "0:a?",
		"-c", "copy",
		"-map_metadata", "0",
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(segment.Seconds(), 'f', -1, 64),
		"-reset_timestamps", "1",
		pattern,
	)
	if err != nil {
		return nil, err
	}

	clips, err := listSegments(outDir, ext)
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no segments")
	}
	return clips, nil
}

func listSegments(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot list segment dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}
