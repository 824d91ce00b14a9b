package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE schema_version (version INTEGER NOT NULL);

CREATE TABLE runs (
	id           TEXT PRIMARY KEY,
	method       TEXT NOT NULL,
	version      TEXT NOT NULL,
	engine       TEXT NOT NULL,
	mode         TEXT NOT NULL,
	params       TEXT NOT NULL,
	state        TEXT NOT NULL,
	failed_step  TEXT,
	error        TEXT,
	warnings     TEXT,
	provenance   TEXT,
	started_at   TEXT NOT NULL,
	elapsed_ms   INTEGER NOT NULL
);

CREATE INDEX runs_started_at ON runs(started_at DESC);
`

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .openoa) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	var v int
	if err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// SaveRun inserts or replaces the run record.
func (s *SqlStore) SaveRun(r *Run) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	warnings, err := json.Marshal(r.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	prov, err := json.Marshal(r.Provenance)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO runs
			(id, method, version, engine, mode, params, state,
			 failed_step, error, warnings, provenance, started_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Method, r.Version, r.Engine, r.Mode, string(params), r.State,
		r.FailedStep, r.Error, string(warnings), string(prov),
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun returns the run by ID, or ErrNoRun.
func (s *SqlStore) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, method, version, engine, mode, params, state,
		       failed_step, error, warnings, provenance, started_at, elapsed_ms
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRun
	}
	return r, err
}

// ListRuns returns runs newest first, at most limit (0 = all).
func (s *SqlStore) ListRuns(limit int) ([]*Run, error) {
	q := `
		SELECT id, method, version, engine, mode, params, state,
		       failed_step, error, warnings, provenance, started_at, elapsed_ms
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqlStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var params, warnings, prov string
	var failedStep, errMsg sql.NullString
	var started string
	var elapsedMs int64
	err := row.Scan(&r.ID, &r.Method, &r.Version, &r.Engine, &r.Mode,
		&params, &r.State, &failedStep, &errMsg, &warnings, &prov,
		&started, &elapsedMs)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params for %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal warnings for %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(prov), &r.Provenance); err != nil {
		return nil, fmt.Errorf("unmarshal provenance for %s: %w", r.ID, err)
	}
	r.FailedStep = failedStep.String
	r.Error = errMsg.String
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at for %s: %w", r.ID, err)
	}
	r.StartedAt = t
	r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	return &r, nil
}
