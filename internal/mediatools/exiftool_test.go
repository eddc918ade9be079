package mediatools

import (
	"context"
	"testing"
)

const exifDump = `---- Doc1 ----
GPS Date/Time                   : 2024:01:15 10:00:01Z
GPS Latitude                    : 41 deg 45' 32.95" N
GPS Longitude                   : 87 deg 37' 4.80" W
---- Doc2 ----
GPS Date/Time                   : 2024:01:15 10:00:00Z
GPS Latitude                    : 41 deg 45' 32.90" N
GPS Longitude                   : 87 deg 37' 4.70" W
`

func TestExifTool_ExtractGPS(t *testing.T) {
	bin := writeScript(t, "exiftool", "cat <<'EOF'\n"+exifDump+"EOF\n")
	cfg := DefaultConfig(testLogger())
	cfg.ExifToolPath = bin

	track, err := NewExifTool(cfg).ExtractGPS(context.Background(), "/videos/front.mp4")
	if err != nil {
		t.Fatalf("ExtractGPS: %v", err)
	}
	if len(track) != 2 {
		t.Fatalf("got %d points, want 2", len(track))
	}
	if !track[0].Time.Before(track[1].Time) {
		t.Error("track is not sorted by time")
	}
	if track[0].Longitude >= 0 {
		t.Errorf("western longitude should be negative, got %v", track[0].Longitude)
	}
}

func TestExifTool_ExtractGPSToolFailure(t *testing.T) {
	bin := writeScript(t, "exiftool", "echo 'Error: File not found' >&2\nexit 1\n")
	cfg := DefaultConfig(testLogger())
	cfg.ExifToolPath = bin

	track, err := NewExifTool(cfg).ExtractGPS(context.Background(), "/videos/missing.mp4")
	if err == nil {
		t.Fatal("expected error")
	}
	if track == nil || len(track) != 0 {
		t.Errorf("track = %v, want empty non-nil track", track)
	}
}

func TestExifTool_ExtractGPSNoSamples(t *testing.T) {
	bin := writeScript(t, "exiftool", "echo 'File Type : MP4'\n")
	cfg := DefaultConfig(testLogger())
	cfg.ExifToolPath = bin

	track, err := NewExifTool(cfg).ExtractGPS(context.Background(), "/videos/nogps.mp4")
	if err != nil {
		t.Fatalf("ExtractGPS: %v", err)
	}
	if len(track) != 0 {
		t.Errorf("got %d points, want 0", len(track))
	}
}
