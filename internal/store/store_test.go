package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func sampleRun(id string, started time.Time) *Run {
	return &Run{
		ID:      id,
		Method:  "plant_aep",
		Version: "1.0",
		Engine:  "pool#3",
		Mode:    "lazy-partitioned",
		Params:  map[string]any{"energy_max": 5000.0, "time_resolution": "1mo"},
		State:   "succeeded",
		Warnings: []string{
			"periods skipped by loss screening",
		},
		Provenance: []ProvenanceRecord{
			{Toolkit: "range_flag@1.0", Step: "filter_range"},
			{Toolkit: "resample@1.0", Step: "resample", Params: map[string]any{"frequency": "1mo"}},
		},
		StartedAt: started,
		Elapsed:   1500 * time.Millisecond,
	}
}

func TestSqlStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SaveRun(sampleRun("run-1", started)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(sampleRun("run-2", started.Add(time.Hour))); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Method != "plant_aep" || got.State != "succeeded" {
		t.Errorf("round trip lost identity: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, started)
	}
	if got.Elapsed != 1500*time.Millisecond {
		t.Errorf("elapsed = %v", got.Elapsed)
	}
	if got.Params["energy_max"] != 5000.0 {
		t.Errorf("params = %v", got.Params)
	}
	if len(got.Provenance) != 2 || got.Provenance[0].Toolkit != "range_flag@1.0" {
		t.Errorf("provenance = %+v", got.Provenance)
	}
	if len(got.Warnings) != 1 {
		t.Errorf("warnings = %v", got.Warnings)
	}

	runs, err := s.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Fatalf("ListRuns order: got %d runs, first %q", len(runs), runs[0].ID)
	}
	limited, err := s.ListRuns(1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("ListRuns(1): %d runs, err %v", len(limited), err)
	}

	if _, err := s.GetRun("missing"); !errors.Is(err, ErrNoRun) {
		t.Fatalf("GetRun missing: got %v, want ErrNoRun", err)
	}
}

func TestSqlStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SaveRun(sampleRun("run-1", time.Now().UTC())); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetRun("run-1"); err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
}

func TestSqlStoreFailedRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	r := sampleRun("run-fail", time.Now().UTC())
	r.State = "failed"
	r.FailedStep = "validate_config"
	r.Error = `parameter "energy_max": required and no default`
	if err := s.SaveRun(r); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := s.GetRun("run-fail")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.FailedStep != "validate_config" || got.Error == "" {
		t.Errorf("failure fields lost: %+v", got)
	}
}

func TestMemStore(t *testing.T) {
	m := NewMem()
	started := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		if err := m.SaveRun(sampleRun(id, started)); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
		started = started.Add(time.Minute)
	}

	runs, err := m.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("ListRuns(2) = %v", []string{runs[0].ID, runs[1].ID})
	}

	got, err := m.GetRun("b")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	// Mutating the returned copy must not touch the stored record.
	got.State = "mangled"
	again, _ := m.GetRun("b")
	if again.State != "succeeded" {
		t.Error("GetRun returned a shared record")
	}

	if _, err := m.GetRun("zzz"); !errors.Is(err, ErrNoRun) {
		t.Fatalf("GetRun missing: got %v, want ErrNoRun", err)
	}
}
