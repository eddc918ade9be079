package mediatools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TagKey is a container or stream tag the agent understands. Tags outside
// this set stay in ProbeResult.Raw and never drive control flow.
type TagKey string

const (
	TagEncodedDate           TagKey = "encoded_date"
	TagCreationTime          TagKey = "creation_time"
	TagQuickTimeCreationDate TagKey = "com.apple.quicktime.creationdate"
	TagDate                  TagKey = "date"
)

// StartTimeTagKeys lists the tags consulted for the recording start, in
// priority order.
var StartTimeTagKeys = []TagKey{
	TagEncodedDate,
	TagCreationTime,
	TagQuickTimeCreationDate,
	TagDate,
}

// Tags maps recognized tag keys to their raw string values.
type Tags map[TagKey]string

// Get returns the value for key, if present and non-blank.
func (t Tags) Get(key TagKey) (string, bool) {
	v, ok := t[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// ProbeResult is the structured metadata of one media file.
type ProbeResult struct {
	Duration float64         // seconds
	Tags     Tags            // recognized tags, format tags win over stream tags
	Raw      json.RawMessage // ffprobe output verbatim, kept for audit
}

type ffprobeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType string            `json:"codec_type"`
	Duration  string            `json:"duration"`
	Tags      map[string]string `json:"tags"`
}

// FFprobe inspects media files with ffprobe.
type FFprobe struct {
	cfg    Config
	runner commandRunner
}

// NewFFprobe creates an FFprobe using cfg.FFprobePath and cfg.ProbeTimeout.
func NewFFprobe(cfg Config) *FFprobe {
	return &FFprobe{
		cfg:    cfg,
		runner: commandRunner{logger: cfg.logger(), debugPaths: cfg.DebugPaths},
	}
}

// Probe reads container and stream metadata for path.
func (p *FFprobe) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	result, err := p.runner.run(ctx, p.cfg.ProbeTimeout, p.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}
	return parseProbeOutput(result.Stdout)
}

// StreamDuration measures the duration of the first video stream in path.
func (p *FFprobe) StreamDuration(ctx context.Context, path string) (float64, error) {
	result, err := p.runner.run(ctx, p.cfg.ProbeTimeout, p.cfg.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=duration",
		"-print_format", "json",
		path,
	)
	if err != nil {
		return 0, err
	}

	var out ffprobeOutput
	if err := json.Unmarshal(result.Stdout, &out); err != nil {
		return 0, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	if len(out.Streams) == 0 {
		return 0, fmt.Errorf("ffprobe reported no video stream")
	}
	return parseSeconds(out.Streams[0].Duration)
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	duration, err := parseSeconds(out.Format.Duration)
	if err != nil {
		for _, s := range out.Streams {
			if s.CodecType != "video" {
				continue
			}
			if d, serr := parseSeconds(s.Duration); serr == nil {
				duration, err = d, nil
			}
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ffprobe output has no duration: %w", err)
	}

	tags := Tags{}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			collectTags(tags, s.Tags)
			break
		}
	}
	collectTags(tags, out.Format.Tags)

	return &ProbeResult{
		Duration: duration,
		Tags:     tags,
		Raw:      json.RawMessage(append([]byte(nil), data...)),
	}, nil
}

// collectTags copies recognized keys from src, matched case-insensitively,
// overwriting earlier values.
func collectTags(dst Tags, src map[string]string) {
	for k, v := range src {
		key := TagKey(strings.ToLower(strings.TrimSpace(k)))
		for _, known := range StartTimeTagKeys {
			if key == known {
				dst[known] = v
				break
			}
		}
	}
}

func parseSeconds(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("duration not reported")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
