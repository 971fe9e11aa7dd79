package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run is one pipeline execution.
type Run struct {
	RunID        string          `json:"run_id"`
	Source       string          `json:"source"`
	ConfigJSON   json.RawMessage `json:"config_json,omitempty"`
	Status       string          `json:"status"`
	Frames       int             `json:"frames"`
	Measurements int             `json:"measurements"`
	PathLength   float64         `json:"path_length"`
	StartedAt    int64           `json:"started_at"`
	FinishedAt   int64           `json:"finished_at,omitempty"`
}

// RunStore persists runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Create inserts run. If RunID is empty, a UUID is generated.
func (s *RunStore) Create(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	var cfg interface{}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO slam_runs (run_id, source, config_json, status, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			run.RunID, run.Source, cfg, run.Status, run.StartedAt,
		)
		return err
	})
}

// Finish records the final counters and status of a run.
func (s *RunStore) Finish(runID, status string, frames, measurements int, pathLength float64) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE slam_runs
			SET status = ?, frames = ?, measurements = ?, path_length = ?, finished_at = ?
			WHERE run_id = ?`,
			status, frames, measurements, pathLength, time.Now().UnixNano(), runID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

// Get returns the run with the given ID.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, source, config_json, status, frames, measurements,
		       path_length, started_at, finished_at
		FROM slam_runs
		WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// List returns the most recent runs first, at most limit of them.
func (s *RunStore) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT run_id, source, config_json, status, frames, measurements,
		       path_length, started_at, finished_at
		FROM slam_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var cfg sql.NullString
	var finished sql.NullInt64
	if err := sc.Scan(&r.RunID, &r.Source, &cfg, &r.Status, &r.Frames, &r.Measurements,
		&r.PathLength, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	if cfg.Valid {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	r.FinishedAt = finished.Int64
	return &r, nil
}
