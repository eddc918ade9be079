package mediatools

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeScript installs an executable shell script standing in for a tool.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	if got := buf.String(); got != " test data" {
		t.Errorf("after overflow got %q, want %q", got, " test data")
	}
}

func TestLimitedWriter_ExactLimit(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 5}

	n, err := lw.Write([]byte("12345"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 5 {
		t.Errorf("Write returned %d, want 5", n)
	}
	if buf.String() != "12345" {
		t.Errorf("got %q, want %q", buf.String(), "12345")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestRun_CapturesStdout(t *testing.T) {
	bin := writeScript(t, "tool", "echo out-line\necho err-line >&2\n")
	r := commandRunner{logger: testLogger()}

	result, err := r.run(context.Background(), time.Second, bin)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(string(result.Stdout)) != "out-line" {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if strings.TrimSpace(result.StderrTail) != "err-line" {
		t.Errorf("stderr tail = %q", result.StderrTail)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	bin := writeScript(t, "ffprobe", "echo 'moov atom not found' >&2\nexit 3\n")
	r := commandRunner{logger: testLogger()}

	result, err := r.run(context.Background(), time.Second, bin, "/tmp/x.mp4")
	if err == nil {
		t.Fatal("expected error")
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error %T is not *ToolError", err)
	}
	if toolErr.ExitCode != 3 || result.ExitCode != 3 {
		t.Errorf("exit code = %d/%d, want 3", toolErr.ExitCode, result.ExitCode)
	}
	if !strings.Contains(err.Error(), "moov atom not found") {
		t.Errorf("error %q does not carry stderr", err.Error())
	}
}

func TestRun_Timeout(t *testing.T) {
	bin := writeScript(t, "slow", "exec sleep 5\n")
	r := commandRunner{logger: testLogger()}

	start := time.Now()
	_, err := r.run(context.Background(), 100*time.Millisecond, bin)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("run did not stop at the timeout")
	}
}

func TestRun_MissingBinary(t *testing.T) {
	r := commandRunner{logger: testLogger()}
	_, err := r.run(context.Background(), time.Second, "/nonexistent/ffprobe999")
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want *ToolError", err)
	}
	if toolErr.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", toolErr.ExitCode)
	}
	msg := err.Error()
	if !strings.Contains(msg, "no such file") && !strings.Contains(msg, "not found") {
		t.Errorf("error %q does not name the start failure", msg)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want it to wrap os.ErrNotExist", err)
	}
}

func TestToolError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *ToolError
		want string
	}{
		{"start failure", &ToolError{Tool: "ffprobe", ExitCode: -1, Err: os.ErrNotExist}, "ffprobe: file does not exist"},
		{"timeout", &ToolError{Tool: "ffmpeg", Err: context.DeadlineExceeded}, "ffmpeg: context deadline exceeded"},
		{"stderr", &ToolError{Tool: "exiftool", ExitCode: 1, StderrTail: "bad file"}, "exiftool exited 1: bad file"},
		{"bare exit", &ToolError{Tool: "ffmpeg", ExitCode: 2}, "ffmpeg exited 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSafePath_DebugMode(t *testing.T) {
	r := commandRunner{debugPaths: true}
	path := "/Users/test/secret/file.mp4"
	if got := r.safePath(path); got != path {
		t.Errorf("debug mode: safePath(%q) = %q, want full path", path, got)
	}
}

func TestSafePath_ProductionMode(t *testing.T) {
	r := commandRunner{}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	path := filepath.Join(home, "dashcam", "front.mp4")
	if got := r.safePath(path); got != "~/dashcam/front.mp4" {
		t.Errorf("safePath() = %q, want %q", got, "~/dashcam/front.mp4")
	}
}
