package mediatools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeFFmpeg writes segments into the directory of its last argument (the
// output pattern) and records its arguments in args.txt.
const fakeFFmpeg = `for last; do :; done
dir=$(dirname "$last")
echo "$@" > "$dir/args.txt"
for n in 00002 00000 00003 00001; do : > "$dir/segment_$n.mp4"; done
: > "$dir/segment_notes.txt"
`

func TestFFmpegSegmenter_Split(t *testing.T) {
	bin := writeScript(t, "ffmpeg", fakeFFmpeg)
	cfg := DefaultConfig(testLogger())
	cfg.FFmpegPath = bin
	outDir := filepath.Join(t.TempDir(), "segments")

	clips, err := NewFFmpegSegmenter(cfg).Split(context.Background(), "/videos/Front.MP4", outDir, 10*time.Second)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	want := []string{"segment_00000.mp4", "segment_00001.mp4", "segment_00002.mp4", "segment_00003.mp4"}
	if len(clips) != len(want) {
		t.Fatalf("got %d clips, want %d: %v", len(clips), len(want), clips)
	}
	for i, name := range want {
		if clips[i] != filepath.Join(outDir, name) {
			t.Errorf("clips[%d] = %q, want %q", i, clips[i], name)
		}
	}

	args, err := os.ReadFile(filepath.Join(outDir, "args.txt"))
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	for _, want := range []string{"-c copy", "-map_metadata 0", "-f segment", "-segment_time 10", "-reset_timestamps 1", "segment_%05d.mp4"} {
		if !strings.Contains(string(args), want) {
			t.Errorf("ffmpeg args %q missing %q", args, want)
		}
	}
}

func TestFFmpegSegmenter_NoSegments(t *testing.T) {
	bin := writeScript(t, "ffmpeg", "exit 0\n")
	cfg := DefaultConfig(testLogger())
	cfg.FFmpegPath = bin

	if _, err := NewFFmpegSegmenter(cfg).Split(context.Background(), "/videos/a.mp4", t.TempDir(), 10*time.Second); err == nil {
		t.Fatal("expected error when no segments are produced")
	}
}

func TestFFmpegSegmenter_ToolFailure(t *testing.T) {
	bin := writeScript(t, "ffmpeg", "echo 'Invalid data found when processing input' >&2\nexit 1\n")
	cfg := DefaultConfig(testLogger())
	cfg.FFmpegPath = bin

	if _, err := NewFFmpegSegmenter(cfg).Split(context.Background(), "/videos/a.mp4", t.TempDir(), 10*time.Second); err == nil {
		t.Fatal("expected error")
	}
}

func TestFFmpegSegmenter_InvalidLength(t *testing.T) {
	s := NewFFmpegSegmenter(DefaultConfig(testLogger()))
	if _, err := s.Split(context.Background(), "/videos/a.mp4", t.TempDir(), 0); err == nil {
		t.Fatal("expected error for zero segment length")
	}
}
