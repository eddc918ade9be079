package mediatools

import (
	"context"

	"github.com/dashclip/dashclip-agent/internal/gps"
)

// ExifTool extracts embedded GPS telemetry with exiftool.
type ExifTool struct {
	cfg    Config
	runner commandRunner
}

// NewExifTool creates an ExifTool using cfg.ExifToolPath and cfg.ExtractTimeout.
func NewExifTool(cfg Config) *ExifTool {
	return &ExifTool{
		cfg:    cfg,
		runner: commandRunner{logger: cfg.logger(), debugPaths: cfg.DebugPaths},
	}
}

// ExtractGPS dumps every embedded metadata document in path and parses the
// GPS samples from it. On tool failure the returned track is empty, never
// nil, alongside the error.
func (e *ExifTool) ExtractGPS(ctx context.Context, path string) (gps.Track, error) {
	result, err := e.runner.run(ctx, e.cfg.ExtractTimeout, e.cfg.ExifToolPath,
		"-ee", // extract embedded timed metadata
		"-a",  // keep duplicate tags, one per sample
		path,
	)
	if err != nil {
		return gps.Track{}, err
	}

	track := gps.Parse(string(result.Stdout))
	e.cfg.logger().Debug("gps samples parsed",
		"points", len(track),
		"output_bytes", len(result.Stdout),
	)
	return track, nil
}
