package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	database, err := New(path, nil)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestNew_SchemaAndPragmas(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "nested", "agent", "dashclip.db"))
	conn := database.Conn()

	for _, table := range []string{"videos", "clips", "config", "_migrations"} {
		var name string
		if err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Errorf("missing table %s: %v", table, err)
		}
	}

	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestNew_ReopenDoesNotReapply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashclip.db")

	first, err := New(path, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	applied, err := openTestDB(t, path).appliedMigrations()
	if err != nil {
		t.Fatalf("appliedMigrations: %v", err)
	}
	want := []string{"001_initial.sql", "002_videos.sql", "003_video_fingerprint.sql"}
	if len(applied) != len(want) {
		t.Fatalf("applied = %v, want %d entries", applied, len(want))
	}
	for _, name := range want {
		if !applied[name] {
			t.Errorf("migration %s not recorded", name)
		}
	}
}

func TestSchemaConstraints(t *testing.T) {
	conn := openTestDB(t, filepath.Join(t.TempDir(), "dashclip.db")).Conn()

	if _, err := conn.Exec(`INSERT INTO videos (id, storage_path, owner_id, created_at, updated_at)
		VALUES ('v1', 'uploads/v1/a.mp4', 'owner', datetime('now'), datetime('now'))`); err != nil {
		t.Fatalf("insert video: %v", err)
	}

	clip := `INSERT INTO clips (video_id, idx, storage_path, duration, created_at)
		VALUES (?, 0, 'clips/v1/0.mp4', 10.0, datetime('now'))`
	if _, err := conn.Exec(clip, "v1"); err != nil {
		t.Fatalf("insert clip: %v", err)
	}

	rejected := map[string]struct {
		query string
		args  []any
	}{
		"duplicate clip index":  {clip, []any{"v1"}},
		"clip of unknown video": {clip, []any{"missing"}},
		"unknown video status": {`INSERT INTO videos (id, storage_path, owner_id, status, created_at, updated_at)
			VALUES ('v2', 'p', 'o', 'exploded', datetime('now'), datetime('now'))`, nil},
	}
	for name, tc := range rejected {
		t.Run(name, func(t *testing.T) {
			if _, err := conn.Exec(tc.query, tc.args...); err == nil {
				t.Error("insert succeeded, want constraint error")
			}
		})
	}
}

func TestApply_RollsBackFailedScript(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "dashclip.db"))

	err := database.apply("999_broken.sql", "CREATE TABLE scratch (id TEXT); NOT VALID SQL;")
	if err == nil {
		t.Fatal("apply of broken script succeeded")
	}

	applied, err := database.appliedMigrations()
	if err != nil {
		t.Fatalf("appliedMigrations: %v", err)
	}
	if applied["999_broken.sql"] {
		t.Error("failed migration was recorded")
	}
	var name string
	if err := database.Conn().QueryRow("SELECT name FROM sqlite_master WHERE name='scratch'").Scan(&name); err == nil {
		t.Error("table from failed migration survived rollback")
	}
}
