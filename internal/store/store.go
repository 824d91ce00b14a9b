// Package store persists run history: which method ran on which engine
// with which parameters, how it ended, and the provenance trail. The CLI
// and any embedding program use only the Store interface; the backing is
// SQLite or in-memory.
package store

import (
	"errors"
	"time"
)

// DefaultDBPath is the default relative path for the SQLite DB.
// Open() creates the parent dir.
const DefaultDBPath = ".openoa/runs.db"

// ErrNoRun is returned when a run ID is not in the store.
var ErrNoRun = errors.New("run not found")

// Run is one recorded method execution.
type Run struct {
	ID         string
	Method     string
	Version    string
	Engine     string
	Mode       string
	Params     map[string]any
	State      string
	FailedStep string
	Error      string
	Warnings   []string
	Provenance []ProvenanceRecord
	StartedAt  time.Time
	Elapsed    time.Duration
}

// ProvenanceRecord is one toolkit application within a run.
type ProvenanceRecord struct {
	Toolkit string         `json:"toolkit"`
	Step    string         `json:"step"`
	Params  map[string]any `json:"params,omitempty"`
}

// Store is the run-history facade.
type Store interface {
	SaveRun(r *Run) error
	GetRun(id string) (*Run, error)
	// ListRuns returns runs newest first, at most limit (0 = all).
	ListRuns(limit int) ([]*Run, error)
	Close() error
}
