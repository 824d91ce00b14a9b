package loader

import (
	"errors"
	"strings"
	"testing"
	"time"

	"openoa/pkg/backend"
)

var meterContract = Contract{Columns: backend.Schema{
	{Name: "timestamp", Kind: backend.KindTime},
	{Name: "energy_kwh", Kind: backend.KindFloat},
	{Name: "turbine", Kind: backend.KindString},
}}

func TestLoad(t *testing.T) {
	csv := strings.Join([]string{
		"timestamp,site,energy_kwh,turbine", // extra column, ignored
		"2024-06-01T00:00:00Z,A,120.5,T01",
		"2024-06-01T00:10:00+02:00,A,,T02", // missing energy, offset time
		"2024-06-01T00:20:00Z,A,98,T03",
	}, "\n")

	f, err := Load(strings.NewReader(csv), meterContract)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3", f.NumRows())
	}
	if got := f.Rows[0][1].(float64); got != 120.5 {
		t.Errorf("energy = %v", got)
	}
	if f.Rows[1][1] != nil {
		t.Errorf("empty cell = %v, want nil", f.Rows[1][1])
	}
	// Offset timestamps normalize to UTC.
	ts := f.Rows[1][0].(time.Time)
	if ts.Location() != time.UTC || ts.Hour() != 22 || ts.Day() != 31 {
		t.Errorf("timestamp not normalized: %v", ts)
	}
}

func TestLoadMissingColumn(t *testing.T) {
	csv := "timestamp,energy_kwh\n2024-06-01T00:00:00Z,1\n"
	_, err := Load(strings.NewReader(csv), meterContract)
	if !errors.Is(err, backend.ErrSchema) {
		t.Fatalf("Load: got %v, want ErrSchema", err)
	}
	var se *backend.SchemaError
	if !errors.As(err, &se) || se.Column != "turbine" {
		t.Fatalf("error does not name the missing column: %v", err)
	}
}

func TestLoadBadCell(t *testing.T) {
	csv := strings.Join([]string{
		"timestamp,energy_kwh,turbine",
		"2024-06-01T00:00:00Z,1,T01",
		"2024-06-01T00:10:00Z,not-a-number,T01",
	}, "\n")
	_, err := Load(strings.NewReader(csv), meterContract)
	if !errors.Is(err, backend.ErrSchema) {
		t.Fatalf("Load: got %v, want ErrSchema", err)
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("error does not locate the bad line: %v", err)
	}
}
