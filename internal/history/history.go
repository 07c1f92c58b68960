// Package history journals update attempts in a local SQLite database so a
// failed run can be diagnosed after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, WAL-friendly
)

// FileName is the default journal name inside the log directory.
const FileName = "history.db"

// Status is the outcome of one attempt.
type Status string

const (
	StatusRunning Status = "running"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
)

const timeLayout = time.RFC3339

const schema = `
	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		last_entry TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_at);
`

// Attempt is one journaled apply of a version.
type Attempt struct {
	ID         int64
	Version    string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or after a crash
	Status     Status
	LastEntry  string
	Error      string
}

// Store is a Journal backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// buildDSN creates a read-write WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Set("mode", "rwc")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(3000)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Open opens or creates the journal at dbPath.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("history: empty database path")
	}
	//nolint:gosec // G301: log directory is shared with the update log
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", buildDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records the start of an attempt to apply version.
func (s *Store) Begin(ctx context.Context, version string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (version, started_at, status) VALUES (?, ?, ?)`,
		version, s.now().Format(timeLayout), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("attempt id: %w", err)
	}
	return id, nil
}

// Finish closes attempt id. A nil cause marks it applied.
func (s *Store) Finish(ctx context.Context, id int64, lastEntry string, cause error) error {
	status, msg := StatusApplied, ""
	if cause != nil {
		status, msg = StatusFailed, cause.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET finished_at = ?, status = ?, last_entry = ?, error = ? WHERE id = ?`,
		s.now().Format(timeLayout), string(status), lastEntry, msg, id)
	if err != nil {
		return fmt.Errorf("update attempt %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attempt %d not found", id)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, started_at, COALESCE(finished_at, ''), status, last_entry, error
		FROM attempts
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var attempts []Attempt
	for rows.Next() {
		var (
			a                 Attempt
			started, finished string
			status            string
		)
		if err := rows.Scan(&a.ID, &a.Version, &started, &finished, &status, &a.LastEntry, &a.Error); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Status = Status(status)
		if a.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at of attempt %d: %w", a.ID, err)
		}
		if finished != "" {
			if a.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
				return nil, fmt.Errorf("parse finished_at of attempt %d: %w", a.ID, err)
			}
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
