package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/dashclip/dashclip-agent/internal/gps"
)

// AcceptTolerance is the largest deviation, exclusive, in seconds between a
// clip's measured duration and the segment length.
const AcceptTolerance = 0.1

// DurationProber measures the video stream duration of a file.
type DurationProber interface {
	StreamDuration(ctx context.Context, path string) (float64, error)
}

// AcceptedClip is a produced segment that passed the duration check.
type AcceptedClip struct {
	Path     string
	Duration float64
}

// Accepts reports whether measured is within AcceptTolerance of target.
func Accepts(measured, target float64) bool {
	return math.Abs(measured-target) < AcceptTolerance
}

// AcceptClips measures each segment in order and keeps those whose duration
// matches segment. A clip that cannot be measured is rejected. The position
// of a clip in the result is its index.
func AcceptClips(ctx context.Context, prober DurationProber, paths []string, segment time.Duration, logger *slog.Logger) []AcceptedClip {
	target := segment.Seconds()
	accepted := make([]AcceptedClip, 0, len(paths))

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		measured, err := prober.StreamDuration(ctx, path)
		if err != nil {
			logger.Warn("cannot measure segment, dropping it", "segment", path, "error", err)
			continue
		}
		if !Accepts(measured, target) {
			logger.Debug("segment rejected",
				"segment", path,
				"measured", measured,
				"target", target,
			)
			continue
		}
		accepted = append(accepted, AcceptedClip{Path: path, Duration: measured})
	}
	return accepted
}

// AssociateGPS splits track into clipCount half-open windows
// [start+i*segment, start+(i+1)*segment). A point on a boundary belongs to
// the window it opens. Points keep their track order; every window is
// non-nil.
func AssociateGPS(start time.Time, segment time.Duration, clipCount int, track gps.Track) [][]gps.Point {
	if clipCount < 0 {
		clipCount = 0
	}
	windows := make([][]gps.Point, clipCount)
	for i := range windows {
		windows[i] = []gps.Point{}
	}
	if segment <= 0 {
		return windows
	}

	for _, p := range track {
		offset := p.Time.Sub(start)
		if offset < 0 {
			continue
		}
		i := int(offset / segment)
		if i >= clipCount {
			continue
		}
		windows[i] = append(windows[i], p)
	}
	return windows
}
