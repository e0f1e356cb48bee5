// Package store persists extraction runs and their attempt history in
// a local SQLite database, for later inspection with the CLI.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voocel/conform"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		prompt TEXT NOT NULL,
		adapter TEXT NOT NULL,
		target_schema TEXT NOT NULL,
		status TEXT NOT NULL,
		value TEXT,
		error TEXT,
		attempts INTEGER NOT NULL,
		wall_time_ms INTEGER NOT NULL,
		est_input_tokens INTEGER NOT NULL,
		est_output_tokens INTEGER NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		number INTEGER NOT NULL,
		prompt_sent TEXT NOT NULL,
		raw_output TEXT NOT NULL,
		submitted TEXT,
		validation_errors TEXT,
		elapsed_ms INTEGER NOT NULL,
		UNIQUE(run_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Run is one persisted extraction.
type Run struct {
	ID        int64
	CreatedAt time.Time
	Prompt    string
	Adapter   string
	Schema    json.RawMessage
	Status    string
	Value     json.RawMessage
	Error     string
	Metrics   conform.Metrics
}

// Attempt mirrors conform.AttemptRecord for a persisted run.
type Attempt struct {
	ID               int64
	RunID            int64
	Number           int
	PromptSent       string
	RawOutput        string
	Submitted        json.RawMessage
	ValidationErrors []string
	Elapsed          time.Duration
}

// SaveOutcome records a finished extraction and its full attempt
// history in one transaction.
func (s *Store) SaveOutcome(req *conform.Request, out *conform.Outcome) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var value, runErr *string
	if len(out.Value) > 0 {
		v := string(out.Value)
		value = &v
	}
	if out.Err != nil {
		e := out.Err.Error()
		runErr = &e
	}

	res, err := tx.Exec(
		`INSERT INTO runs (prompt, adapter, target_schema, status, value, error,
			attempts, wall_time_ms, est_input_tokens, est_output_tokens, input_tokens, output_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Prompt, req.Adapter.Name(), string(req.Schema), out.Status.String(), value, runErr,
		out.Metrics.Attempts, out.Metrics.WallTime.Milliseconds(),
		out.Metrics.EstimatedInputTokens, out.Metrics.EstimatedOutputTokens,
		out.Metrics.InputTokens, out.Metrics.OutputTokens,
	)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, rec := range out.Attempts {
		var submitted, verrs *string
		if len(rec.Submitted) > 0 {
			v := string(rec.Submitted)
			submitted = &v
		}
		if len(rec.ValidationErrors) > 0 {
			data, err := json.Marshal(rec.ValidationErrors)
			if err != nil {
				return 0, err
			}
			v := string(data)
			verrs = &v
		}
		_, err := tx.Exec(
			`INSERT INTO attempts (run_id, number, prompt_sent, raw_output, submitted, validation_errors, elapsed_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, rec.Number, rec.PromptSent, rec.RawOutput, submitted, verrs, rec.Elapsed.Milliseconds(),
		)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

func scanRun(scan func(dest ...any) error) (*Run, error) {
	var run Run
	var schemaText, status string
	var value, runErr sql.NullString
	var wallMS int64

	err := scan(
		&run.ID, &run.CreatedAt, &run.Prompt, &run.Adapter, &schemaText, &status,
		&value, &runErr, &run.Metrics.Attempts, &wallMS,
		&run.Metrics.EstimatedInputTokens, &run.Metrics.EstimatedOutputTokens,
		&run.Metrics.InputTokens, &run.Metrics.OutputTokens,
	)
	if err != nil {
		return nil, err
	}

	run.Schema = json.RawMessage(schemaText)
	run.Status = status
	run.Metrics.WallTime = time.Duration(wallMS) * time.Millisecond
	if value.Valid {
		run.Value = json.RawMessage(value.String)
	}
	if runErr.Valid {
		run.Error = runErr.String
	}
	return &run, nil
}

const runColumns = `id, created_at, prompt, adapter, target_schema, status, value, error,
	attempts, wall_time_ms, est_input_tokens, est_output_tokens, input_tokens, output_tokens`

// GetRun loads one run by id.
func (s *Store) GetRun(id int64) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row.Scan)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetAttempts returns a run's attempt records in order.
func (s *Store) GetAttempts(runID int64) ([]*Attempt, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, number, prompt_sent, raw_output, submitted, validation_errors, elapsed_ms
		 FROM attempts WHERE run_id = ? ORDER BY number`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var a Attempt
		var submitted, verrs sql.NullString
		var elapsedMS int64

		err := rows.Scan(&a.ID, &a.RunID, &a.Number, &a.PromptSent, &a.RawOutput, &submitted, &verrs, &elapsedMS)
		if err != nil {
			return nil, err
		}
		if submitted.Valid {
			a.Submitted = json.RawMessage(submitted.String)
		}
		if verrs.Valid {
			if err := json.Unmarshal([]byte(verrs.String), &a.ValidationErrors); err != nil {
				return nil, fmt.Errorf("store: decode validation errors for attempt %d: %w", a.ID, err)
			}
		}
		a.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// DeleteRun removes a run and its attempts.
func (s *Store) DeleteRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM attempts WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
