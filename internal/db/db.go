// Package db opens the agent's SQLite database and applies the embedded
// schema migrations.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dashclip/dashclip-agent/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlite serializes writers; one connection keeps busy errors out of
// concurrent pipeline runs.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// DB owns the single SQLite connection. Rows left in 'processing' by a crash
// are not touched here; the stale sweeper re-submits them.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens (creating if needed) the database at dbPath and migrates it.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn, logger: logging.WithComponent(logging.OrDiscard(logger), "db")}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) init() error {
	if err := d.conn.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	for _, pragma := range pragmas {
		if _, err := d.conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	if err := d.migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// migrate applies every embedded script not yet recorded in _migrations,
// in file name order.
func (d *DB) migrate() error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	applied, err := d.appliedMigrations()
	if err != nil {
		return err
	}

	for _, file := range names {
		name := strings.TrimPrefix(file, "migrations/")
		if applied[name] {
			continue
		}

		script, err := migrationsFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if err := d.apply(name, string(script)); err != nil {
			return err
		}
		d.logger.Info("applied migration", "name", name)
	}
	return nil
}

// apply runs one migration and records it in a single transaction, so a
// failing script leaves no partial schema behind.
func (d *DB) apply(name, script string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(script); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// appliedMigrations returns the recorded migration names; empty on a fresh
// database, where the first script creates _migrations itself.
func (d *DB) appliedMigrations() (map[string]bool, error) {
	applied := map[string]bool{}

	var table string
	err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&table)
	if err == sql.ErrNoRows {
		return applied, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect schema: %w", err)
	}

	rows, err := d.conn.Query("SELECT name FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
