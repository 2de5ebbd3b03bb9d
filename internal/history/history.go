// Package history records completed pipeline runs in a local sqlite
// database so past results can be listed and served after the fact.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wiheto/niworkflows/internal/engine"
	"github.com/wiheto/niworkflows/internal/scheduler"
)

// Run is one recorded pipeline run.
type Run struct {
	ID        string        `json:"id"`
	Pipeline  string        `json:"pipeline"`
	Branch    string        `json:"branch,omitempty"`
	Tag       string        `json:"tag,omitempty"`
	Success   bool          `json:"success"`
	Canceled  bool          `json:"canceled"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Jobs      []JobRecord   `json:"jobs,omitempty"`
}

// JobRecord is the terminal state of one job within a run.
type JobRecord struct {
	Name     string          `json:"name"`
	State    scheduler.State `json:"state"`
	ExitCode int             `json:"exit_code"`
	Duration time.Duration   `json:"duration"`
	Error    string          `json:"error,omitempty"`
}

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// Store persists runs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  pipeline TEXT NOT NULL,
  branch TEXT NOT NULL DEFAULT '',
  tag TEXT NOT NULL DEFAULT '',
  success INTEGER NOT NULL,
  canceled INTEGER NOT NULL DEFAULT 0,
  started_at INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_jobs (
  run_id TEXT NOT NULL REFERENCES runs(id),
  name TEXT NOT NULL,
  state TEXT NOT NULL,
  exit_code INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  seq INTEGER NOT NULL,
  PRIMARY KEY (run_id, name)
);
`); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record stores a finished run with its per-job outcomes.
func (s *Store) Record(ctx context.Context, res *engine.RunResult, startedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, branch, tag, success, canceled, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Pipeline, res.Ref.Branch, res.Ref.Tag,
		boolInt(res.Success), boolInt(res.Canceled),
		startedAt.UnixMilli(), res.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	for i, j := range res.Jobs {
		errMsg := ""
		if j.Err != nil {
			errMsg = j.Err.Error()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_jobs (run_id, name, state, exit_code, duration_ms, error, seq)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, j.Name, string(j.State), j.ExitCode, j.Duration.Milliseconds(), errMsg, i,
		); err != nil {
			return fmt.Errorf("record job %s: %w", j.Name, err)
		}
	}
	return tx.Commit()
}

// List returns the most recent runs, newest first, without job detail.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline, branch, tag, success, canceled, started_at, duration_ms
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns one run with its job records.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline, branch, tag, success, canceled, started_at, duration_ms
		 FROM runs WHERE id = ?`, id)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, state, exit_code, duration_ms, error
		 FROM run_jobs WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var j JobRecord
		var durMs int64
		var state string
		if err := rows.Scan(&j.Name, &state, &j.ExitCode, &durMs, &j.Error); err != nil {
			return nil, err
		}
		j.State = scheduler.State(state)
		j.Duration = time.Duration(durMs) * time.Millisecond
		r.Jobs = append(r.Jobs, j)
	}
	return &r, rows.Err()
}

// Latest returns the most recent run with job detail.
func (s *Store) Latest(ctx context.Context) (*Run, error) {
	runs, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return s.Get(ctx, runs[0].ID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var success, canceled int
	var startedMs, durMs int64
	if err := row.Scan(&r.ID, &r.Pipeline, &r.Branch, &r.Tag, &success, &canceled, &startedMs, &durMs); err != nil {
		return Run{}, err
	}
	r.Success = success != 0
	r.Canceled = canceled != 0
	r.StartedAt = time.UnixMilli(startedMs).UTC()
	r.Duration = time.Duration(durMs) * time.Millisecond
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
