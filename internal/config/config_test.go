package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.Host() != DefaultHost {
		t.Errorf("Host() = %q, want %q", cfg.Host(), DefaultHost)
	}
	if cfg.Mode() != DefaultMode {
		t.Errorf("Mode() = %q, want %q", cfg.Mode(), DefaultMode)
	}
	if cfg.StorageBackend() != "local" {
		t.Errorf("StorageBackend() = %q, want local", cfg.StorageBackend())
	}
	if cfg.TimeoutProbe() != 60*time.Second {
		t.Errorf("TimeoutProbe() = %v, want 60s", cfg.TimeoutProbe())
	}
	if cfg.StaleAfter() != 0 {
		t.Errorf("StaleAfter() = %v, want 0 (sweeper disabled)", cfg.StaleAfter())
	}
	if cfg.ScratchDir() != filepath.Join(cfg.DataDir(), "scratch") {
		t.Errorf("ScratchDir() = %q, want under data dir", cfg.ScratchDir())
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvMode, "SYNC")
	t.Setenv(EnvTimeoutSegment, "30")
	t.Setenv(EnvStaleAfter, "20m")
	t.Setenv(EnvHost, "0.0.0.0")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port() = %d, want 9000", cfg.Port())
	}
	if cfg.Mode() != "sync" {
		t.Errorf("Mode() = %q, want sync", cfg.Mode())
	}
	if cfg.TimeoutSegment() != 30*time.Second {
		t.Errorf("TimeoutSegment() = %v, want 30s", cfg.TimeoutSegment())
	}
	if cfg.StaleAfter() != 20*time.Minute {
		t.Errorf("StaleAfter() = %v, want 20m", cfg.StaleAfter())
	}
	if cfg.Host() != "0.0.0.0" {
		t.Errorf("Host() = %q, want 0.0.0.0", cfg.Host())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{EnvPort: "70000"}},
		{"port not a number", map[string]string{EnvPort: "abc"}},
		{"unknown mode", map[string]string{EnvMode: "later"}},
		{"s3 without bucket", map[string]string{EnvStorageBackend: "s3"}},
		{"http without url", map[string]string{EnvStorageBackend: "http"}},
		{"redis without addr", map[string]string{EnvQueueBackend: "redis"}},
		{"zero timeout", map[string]string{EnvTimeoutProbe: "0"}},
		{"inbox without owner", map[string]string{EnvInboxDir: "/srv/inbox"}},
		{"negative stale after", map[string]string{EnvStaleAfter: "-1m"}},
		{"stale after shorter than a run", map[string]string{EnvStaleAfter: "1m", EnvTimeoutSegment: "900"}},
		{"stale after below tool timeouts", map[string]string{EnvStaleAfter: "10m", EnvTimeoutProbe: "60", EnvTimeoutExtract: "60", EnvTimeoutSegment: "300"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := New(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_StaleAfterFloor(t *testing.T) {
	t.Setenv(EnvTimeoutProbe, "10")
	t.Setenv(EnvTimeoutExtract, "20")
	t.Setenv(EnvTimeoutSegment, "30")
	t.Setenv(EnvStaleAfter, "6m")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Minute + StaleMargin; cfg.MinStaleAfter() != want {
		t.Errorf("MinStaleAfter() = %v, want %v", cfg.MinStaleAfter(), want)
	}

	t.Setenv(EnvStaleAfter, "5m59s")
	if _, err := New(); err == nil {
		t.Error("stale_after below the floor was accepted")
	}
}

func TestNew_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dashclip.yaml")
	content := `
port: 9100
processing:
  mode: sync
  workers: 4
storage:
  backend: s3
  s3:
    bucket: dashcam-videos
    region: eu-west-1
tools:
  timeout_probe: 5s
sweeper:
  stale_after: 1h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvWorkers, "8")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("Port() = %d, want 9100", cfg.Port())
	}
	if cfg.Mode() != "sync" {
		t.Errorf("Mode() = %q, want sync", cfg.Mode())
	}
	if cfg.Workers() != 8 {
		t.Errorf("Workers() = %d, want env value 8", cfg.Workers())
	}
	if cfg.S3Bucket() != "dashcam-videos" || cfg.S3Region() != "eu-west-1" {
		t.Errorf("s3 = %q/%q, want dashcam-videos/eu-west-1", cfg.S3Bucket(), cfg.S3Region())
	}
	if cfg.TimeoutProbe() != 5*time.Second {
		t.Errorf("TimeoutProbe() = %v, want 5s", cfg.TimeoutProbe())
	}
	if cfg.StaleAfter() != time.Hour {
		t.Errorf("StaleAfter() = %v, want 1h", cfg.StaleAfter())
	}
}

func TestNew_DotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "DASHCLIP_LOG_LEVEL=debug\nDASHCLIP_INBOX_DIR=/srv/inbox\nDASHCLIP_INBOX_OWNER=fleet-7\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvEnvFile, path)
	t.Setenv(EnvLogLevel, "warn")
	// registered so t.Setenv restores the variable godotenv sets
	t.Setenv(EnvInboxDir, "")
	t.Setenv(EnvInboxOwner, "")
	os.Unsetenv(EnvInboxDir)
	os.Unsetenv(EnvInboxOwner)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel() != "warn" {
		t.Errorf("LogLevel() = %q, want warn from environment", cfg.LogLevel())
	}
	if cfg.InboxDir() != "/srv/inbox" {
		t.Errorf("InboxDir() = %q, want value from env file", cfg.InboxDir())
	}
	if cfg.InboxOwner() != "fleet-7" {
		t.Errorf("InboxOwner() = %q, want fleet-7", cfg.InboxOwner())
	}
}

func TestNew_MissingEnvFile(t *testing.T) {
	t.Setenv(EnvEnvFile, filepath.Join(t.TempDir(), "missing.env"))

	if _, err := New(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}
