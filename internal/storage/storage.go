// Package storage keeps a SQLite history of alignment runs.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skyalign/pkg/geometry"

	_ "modernc.org/sqlite"
)

// Run status values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Store wraps SQLite-backed persistence for alignment runs.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            kind TEXT NOT NULL,
            reference_path TEXT,
            target_path TEXT,
            output_path TEXT,
            status TEXT NOT NULL,
            error_message TEXT,
            a REAL, b REAL, tx REAL,
            c REAL, d REAL, ty REAL,
            inliers INTEGER,
            rms REAL,
            triangle_matches INTEGER,
            candidates INTEGER,
            options_json TEXT,
            duration_ms INTEGER,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_runs_reference ON runs(reference_path);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Run is one persisted alignment attempt.
type Run struct {
	ID              int64
	Kind            string // transform, align or watch
	ReferencePath   string
	TargetPath      string
	OutputPath      string
	Status          string
	Error           string
	Transform       geometry.AffineTransform
	Inliers         int
	RMS             float64
	TriangleMatches int
	Candidates      int
	Options         map[string]any
	Duration        time.Duration
	CreatedAt       time.Time
}

// RecordRun inserts rec and returns its id. A nil store records nothing.
func (s *Store) RecordRun(rec Run) (int64, error) {
	if s == nil {
		return 0, nil
	}
	if rec.Status == "" {
		rec.Status = StatusOK
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	optionsJSON, err := json.Marshal(rec.Options)
	if err != nil {
		return 0, fmt.Errorf("encode options: %w", err)
	}

	t := rec.Transform
	res, err := s.DB.Exec(`INSERT INTO runs (kind, reference_path, target_path, output_path, status, error_message,
            a, b, tx, c, d, ty, inliers, rms, triangle_matches, candidates, options_json, duration_ms, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Kind, rec.ReferencePath, rec.TargetPath, rec.OutputPath, rec.Status, rec.Error,
		t.A, t.B, t.TX, t.C, t.D, t.TY, rec.Inliers, rec.RMS, rec.TriangleMatches, rec.Candidates,
		string(optionsJSON), rec.Duration.Milliseconds(), rec.CreatedAt.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const runColumns = `id, kind, reference_path, target_path, output_path, status, error_message,
    a, b, tx, c, d, ty, inliers, rms, triangle_matches, candidates, options_json, duration_ms, created_at`

// RecentRuns returns the latest runs up to limit, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// RunsForReference returns every run against the given reference, newest first.
func (s *Store) RunsForReference(path string) ([]Run, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+runColumns+` FROM runs WHERE reference_path = ? ORDER BY created_at DESC, id DESC;`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// GetRun loads one run by id.
func (s *Store) GetRun(id int64) (*Run, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+runColumns+` FROM runs WHERE id = ?;`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("run %d: %w", id, sql.ErrNoRows)
	}
	return &runs[0], nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var recs []Run
	for rows.Next() {
		var rec Run
		var ref, target, output, errMsg, optionsJSON sql.NullString
		var durationMS int64
		t := &rec.Transform
		if err := rows.Scan(&rec.ID, &rec.Kind, &ref, &target, &output, &rec.Status, &errMsg,
			&t.A, &t.B, &t.TX, &t.C, &t.D, &t.TY, &rec.Inliers, &rec.RMS, &rec.TriangleMatches, &rec.Candidates,
			&optionsJSON, &durationMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ReferencePath = ref.String
		rec.TargetPath = target.String
		rec.OutputPath = output.String
		rec.Error = errMsg.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if optionsJSON.Valid && optionsJSON.String != "" && optionsJSON.String != "null" {
			if err := json.Unmarshal([]byte(optionsJSON.String), &rec.Options); err != nil {
				return nil, fmt.Errorf("run %d options: %w", rec.ID, err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
