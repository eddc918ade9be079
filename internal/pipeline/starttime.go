package pipeline

import (
	"strings"
	"time"

	"github.com/dashclip/dashclip-agent/internal/gps"
	"github.com/dashclip/dashclip-agent/internal/mediatools"
)

// Start time sources recorded alongside the resolved instant.
const (
	SourceGPS   = "gps"
	SourceClock = "clock"
)

// TagSource looks up recognized probe tags.
type TagSource interface {
	Get(key mediatools.TagKey) (string, bool)
}

// StartTime is the resolved recording start and where it came from:
// "tag:<key>", "gps" or "clock".
type StartTime struct {
	Time   time.Time
	Source string
}

// Zone-less values are read as UTC. Fractional seconds are accepted by
// every layout.
var startTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006:01:02 15:04:05Z07:00",
	"2006:01:02 15:04:05",
}

// ResolveStartTime picks the recording start: the first tag in
// mediatools.StartTimeTagKeys order that parses, else the first GPS sample,
// else now(). A parsable tag always wins over GPS.
func ResolveStartTime(tags TagSource, track gps.Track, now func() time.Time) StartTime {
	if tags != nil {
		for _, key := range mediatools.StartTimeTagKeys {
			raw, ok := tags.Get(key)
			if !ok {
				continue
			}
			if t, ok := parseTagTime(raw); ok {
				return StartTime{Time: t, Source: "tag:" + string(key)}
			}
		}
	}

	if t, ok := track.Start(); ok {
		return StartTime{Time: t, Source: SourceGPS}
	}

	if now == nil {
		now = time.Now
	}
	return StartTime{Time: now().UTC(), Source: SourceClock}
}

// parseTagTime drops the "UTC" marker some muxers add ("UTC 2024-01-15
// 10:00:00", "2024-01-15T10:00:00 UTC") and tries each layout.
func parseTagTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "UTC", ""))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
