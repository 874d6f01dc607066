// Package history persists a record of pipeline runs in a local SQLite
// database. Each run is recorded when it starts and updated when it finishes,
// giving operators a durable log of what ran, how long it took, and whether
// it succeeded.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Outcome values recorded for finished runs.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeNoWork  = "no_work"
)

// schema contains the DDL executed on first open. Using IF NOT EXISTS makes
// it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    mode         TEXT NOT NULL,
    full_run     INTEGER NOT NULL DEFAULT 0,
    outcome      TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    output_count INTEGER NOT NULL DEFAULT 0,
    byte_count   INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    started_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at  TIMESTAMP
);
`

// Run is one recorded pipeline run.
type Run struct {
	RunID       string
	Mode        string
	FullRun     bool
	Outcome     string
	Error       string
	OutputCount int
	ByteCount   int64
	DurationMS  int64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store records pipeline runs in a local SQLite database in WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at dbPath, enables WAL mode and
// busy timeout, and creates the schema tables if they do not exist.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	// Limit to one connection. SQLite only supports a single writer; using
	// one connection avoids SQLITE_BUSY contention between pooled connections
	// that each need their own PRAGMA setup.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: enable WAL mode: %w", err)
	}

	// Busy timeout avoids SQLITE_BUSY under concurrent access from external processes.
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set busy timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordStart inserts a new run row with the given ID and mode. The outcome
// remains empty until RecordFinish is called for the same run.
func (s *Store) RecordStart(ctx context.Context, runID, mode string, fullRun bool) error {
	const q = `INSERT INTO runs (run_id, mode, full_run) VALUES (?, ?, ?)`
	full := 0
	if fullRun {
		full = 1
	}
	if _, err := s.db.ExecContext(ctx, q, runID, mode, full); err != nil {
		return fmt.Errorf("history: record start of run %q: %w", runID, err)
	}
	return nil
}

// RecordFinish updates a run row with its outcome and final statistics.
func (s *Store) RecordFinish(ctx context.Context, runID, outcome, errText string, outputs int, bytes, durationMS int64) error {
	const q = `
		UPDATE runs SET
			outcome      = ?,
			error        = ?,
			output_count = ?,
			byte_count   = ?,
			duration_ms  = ?,
			finished_at  = CURRENT_TIMESTAMP
		WHERE run_id = ?`
	res, err := s.db.ExecContext(ctx, q, outcome, errText, outputs, bytes, durationMS, runID)
	if err != nil {
		return fmt.Errorf("history: record finish of run %q: %w", runID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: record finish rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("history: record finish: unknown run %q", runID)
	}
	return nil
}

// Recent returns the most recent runs in reverse chronological order, at most
// limit entries.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	const q = `
		SELECT run_id, mode, full_run, outcome, error, output_count, byte_count, duration_ms,
		       started_at, COALESCE(finished_at, '')
		FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent runs: %w", err)
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		var r Run
		var full int
		var started, finished string
		if err := rows.Scan(&r.RunID, &r.Mode, &full, &r.Outcome, &r.Error, &r.OutputCount, &r.ByteCount, &r.DurationMS, &started, &finished); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.FullRun = full != 0
		startedAt, parseErr := parseTimestamp(started)
		if parseErr != nil {
			return nil, fmt.Errorf("history: parse started_at: %w", parseErr)
		}
		r.StartedAt = startedAt
		if finished != "" {
			finishedAt, parseErr := parseTimestamp(finished)
			if parseErr != nil {
				return nil, fmt.Errorf("history: parse finished_at: %w", parseErr)
			}
			r.FinishedAt = finishedAt
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return result, nil
}

// LastSuccess returns the most recent run that finished with OutcomeSuccess,
// or false if no run has succeeded yet.
func (s *Store) LastSuccess(ctx context.Context) (Run, bool, error) {
	const q = `
		SELECT run_id, mode, full_run, outcome, error, output_count, byte_count, duration_ms,
		       started_at, COALESCE(finished_at, '')
		FROM runs WHERE outcome = ? ORDER BY started_at DESC, run_id DESC LIMIT 1`
	var r Run
	var full int
	var started, finished string
	err := s.db.QueryRowContext(ctx, q, OutcomeSuccess).
		Scan(&r.RunID, &r.Mode, &full, &r.Outcome, &r.Error, &r.OutputCount, &r.ByteCount, &r.DurationMS, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("history: last success: %w", err)
	}
	r.FullRun = full != 0
	startedAt, parseErr := parseTimestamp(started)
	if parseErr != nil {
		return Run{}, false, fmt.Errorf("history: parse started_at: %w", parseErr)
	}
	r.StartedAt = startedAt
	if finished != "" {
		finishedAt, parseErr := parseTimestamp(finished)
		if parseErr != nil {
			return Run{}, false, fmt.Errorf("history: parse finished_at: %w", parseErr)
		}
		r.FinishedAt = finishedAt
	}
	return r, true, nil
}

// timestampFormats lists the formats SQLite drivers may produce for
// CURRENT_TIMESTAMP. modernc.org/sqlite typically returns RFC 3339
// (with "T" separator and "Z" suffix), while canonical SQLite returns
// the space-separated DateTime format.
var timestampFormats = []string{
	time.RFC3339,
	time.DateTime,
}

// parseTimestamp attempts to parse a SQLite timestamp string using known formats.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
