// Package db keeps run history in SQLite.
//
// Every run is stored with its summary, and every bug fingerprint it produced
// is upserted into a registry so that a failure seen again in a later run
// adds to the existing ticket instead of starting a new one.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	environment TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	total       INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	flaky       INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	errored     INTEGER NOT NULL,
	timeout     INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	attempts    INTEGER NOT NULL,
	bugs        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS bugs (
	fingerprint       TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	category          TEXT NOT NULL,
	severity          TEXT NOT NULL,
	first_seen        TIMESTAMP NOT NULL,
	last_seen         TIMESTAMP NOT NULL,
	runs              INTEGER NOT NULL,
	total_occurrences INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_bugs (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	fingerprint TEXT NOT NULL REFERENCES bugs(fingerprint),
	occurrences INTEGER NOT NULL,
	PRIMARY KEY (run_id, fingerprint)
);
`

// Run is one stored run.
type Run struct {
	ID          string
	Environment string
	StartedAt   time.Time
	FinishedAt  time.Time
	Counts      aggregate.Counts
	Attempts    int
	Bugs        int
}

// Duration is the run's wall-clock time.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store is the history database.
type Store struct {
	db         *sql.DB
	dataSource string
}

// Open opens or creates the history database. connectionString is a path or
// a sqlite:// / sqlite: URL.
func Open(ctx context.Context, connectionString string) (*Store, error) {
	driver, dsn, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, dataSource: dsn}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun stores a finished run with its reports and returns the updated
// history of every reported fingerprint. Recording the same run twice is an
// error.
func (s *Store) RecordRun(ctx context.Context, rs *aggregate.ResultSet, environment string, reports []*bugreport.BugReport) (map[string]bugreport.History, error) {
	if rs.RunID == "" {
		return nil, fmt.Errorf("run has no id")
	}
	summary := rs.Summary()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, environment, started_at, finished_at, total, passed, flaky, failed, errored, timeout, skipped, attempts, bugs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rs.RunID, environment, rs.StartedAt.UTC(), rs.FinishedAt.UTC(),
		summary.Total, summary.Passed, summary.Flaky, summary.Failed, summary.Errored, summary.Timeout, summary.Skipped,
		summary.Attempts, len(reports))
	if err != nil {
		return nil, fmt.Errorf("recording run %s: %w", rs.RunID, err)
	}

	seen := rs.FinishedAt.UTC()
	for _, r := range reports {
		_, err := tx.ExecContext(ctx, `INSERT INTO bugs
			(fingerprint, title, category, severity, first_seen, last_seen, runs, total_occurrences)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(fingerprint) DO UPDATE SET
				title = excluded.title,
				severity = excluded.severity,
				last_seen = excluded.last_seen,
				runs = bugs.runs + 1,
				total_occurrences = bugs.total_occurrences + excluded.total_occurrences`,
			r.Fingerprint, r.Title, string(r.Category), string(r.Severity), seen, seen, r.Occurrences)
		if err != nil {
			return nil, fmt.Errorf("recording bug %s: %w", r.Fingerprint, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_bugs (run_id, fingerprint, occurrences) VALUES (?, ?, ?)`,
			rs.RunID, r.Fingerprint, r.Occurrences); err != nil {
			return nil, fmt.Errorf("linking bug %s: %w", r.Fingerprint, err)
		}
	}

	history := make(map[string]bugreport.History, len(reports))
	for _, r := range reports {
		h, err := queryHistory(ctx, tx, r.Fingerprint)
		if err != nil {
			return nil, err
		}
		history[r.Fingerprint] = h
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing run %s: %w", rs.RunID, err)
	}
	return history, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryHistory(ctx context.Context, q querier, fingerprint string) (bugreport.History, error) {
	var h bugreport.History
	err := q.QueryRowContext(ctx,
		`SELECT first_seen, last_seen, runs, total_occurrences FROM bugs WHERE fingerprint = ?`, fingerprint).
		Scan(&h.FirstSeen, &h.LastSeen, &h.Runs, &h.TotalOccurrences)
	if err != nil {
		return h, fmt.Errorf("reading history of %s: %w", fingerprint, err)
	}
	return h, nil
}

// BugHistory returns the stored history of a fingerprint. ok is false when
// it was never recorded.
func (s *Store) BugHistory(ctx context.Context, fingerprint string) (h bugreport.History, ok bool, err error) {
	h, err = queryHistory(ctx, s.db, fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return h, false, nil
		}
		return h, false, err
	}
	return h, true, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, environment, started_at, finished_at, total, passed, flaky, failed, errored, timeout, skipped, attempts, bugs
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		c := &r.Counts
		if err := rows.Scan(&r.ID, &r.Environment, &r.StartedAt, &r.FinishedAt,
			&c.Total, &c.Passed, &c.Flaky, &c.Failed, &c.Errored, &c.Timeout, &c.Skipped, &r.Attempts, &r.Bugs); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// parseConnectionString accepts:
//   - sqlite://path/to/history.db
//   - sqlite:./history.db
//   - a plain file path
func parseConnectionString(connStr string) (driver string, dsn string, err error) {
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return "", "", fmt.Errorf("empty connection string")
	}

	if strings.HasPrefix(connStr, "sqlite://") {
		return "sqlite3", strings.TrimPrefix(connStr, "sqlite://"), nil
	}
	if strings.HasPrefix(connStr, "sqlite:") {
		return "sqlite3", strings.TrimPrefix(connStr, "sqlite:"), nil
	}
	if i := strings.Index(connStr, "://"); i > 0 {
		return "", "", fmt.Errorf("unsupported database scheme: %s", connStr[:i])
	}
	return "sqlite3", connStr, nil
}
