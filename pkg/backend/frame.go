package backend

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Frame is a materialized, in-memory, order-deterministic snapshot of a
// dataset: an ordered schema plus rows of cells. Cell representation follows
// the column Kind (see Kind); a nil cell is a missing value.
//
// Frames are the engine-independent currency at result-collection
// boundaries: every engine's Materialize returns one, and loaders build
// source Handles from one.
type Frame struct {
	Schema Schema
	Rows   [][]any
}

// NewFrame returns an empty frame with the given schema.
func NewFrame(schema Schema) *Frame {
	return &Frame{Schema: schema}
}

// NumRows returns the row count.
func (f *Frame) NumRows() int { return len(f.Rows) }

// Append adds one row. The caller is responsible for cell kinds matching
// the schema; loaders and kernels uphold this.
func (f *Frame) Append(row []any) { f.Rows = append(f.Rows, row) }

// Column returns all cells of the named column in row order.
// Returns a SchemaError if the column is absent.
func (f *Frame) Column(name string) ([]any, error) {
	i := f.Schema.Index(name)
	if i < 0 {
		return nil, &SchemaError{Column: name, Detail: "column not present"}
	}
	out := make([]any, len(f.Rows))
	for r, row := range f.Rows {
		out[r] = row[i]
	}
	return out, nil
}

// Floats returns the named column as float64s, skipping nil cells.
// Int cells are widened. Used by methods at materialized boundaries.
func (f *Frame) Floats(name string) ([]float64, error) {
	i := f.Schema.Index(name)
	if i < 0 {
		return nil, &SchemaError{Column: name, Detail: "column not present"}
	}
	out := make([]float64, 0, len(f.Rows))
	for _, row := range f.Rows {
		switch v := row[i].(type) {
		case float64:
			out = append(out, v)
		case int64:
			out = append(out, float64(v))
		case nil:
			// missing
		default:
			return nil, &SchemaError{Column: name,
				Detail: fmt.Sprintf("cell %T is not numeric", row[i])}
		}
	}
	return out, nil
}

// Equal reports deep equality: same schema, same rows in the same order.
// Time cells compare by instant.
func (f *Frame) Equal(other *Frame) bool {
	if !f.Schema.Equal(other.Schema) || len(f.Rows) != len(other.Rows) {
		return false
	}
	for r := range f.Rows {
		for c := range f.Schema {
			if !cellEqual(f.Rows[r][c], other.Rows[r][c]) {
				return false
			}
		}
	}
	return true
}

func cellEqual(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return a == b
}

// clone returns a shallow row copy; cells are immutable values so sharing
// them is safe.
func (f *Frame) clone() *Frame {
	rows := make([][]any, len(f.Rows))
	copy(rows, f.Rows)
	return &Frame{Schema: append(Schema(nil), f.Schema...), Rows: rows}
}

// WriteCSV serializes the frame with a header row. Times are RFC 3339 UTC.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Schema.Names()); err != nil {
		return err
	}
	rec := make([]string, len(f.Schema))
	for _, row := range f.Rows {
		for i, cell := range row {
			rec[i] = formatCell(cell)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case time.Time:
		return c.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(c, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(c, 10)
	case bool:
		return strconv.FormatBool(c)
	default:
		return fmt.Sprint(c)
	}
}

// MarshalJSON renders {"columns": [...], "rows": [[...], ...]} with kinds
// alongside names so consumers can reconstruct the schema.
func (f *Frame) MarshalJSON() ([]byte, error) {
	type col struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	cols := make([]col, len(f.Schema))
	for i, c := range f.Schema {
		cols[i] = col{Name: c.Name, Kind: c.Kind.String()}
	}
	rows := make([][]any, len(f.Rows))
	for r, row := range f.Rows {
		out := make([]any, len(row))
		for i, cell := range row {
			if t, ok := cell.(time.Time); ok {
				out[i] = t.UTC().Format(time.RFC3339)
			} else {
				out[i] = cell
			}
		}
		rows[r] = out
	}
	return json.Marshal(map[string]any{"columns": cols, "rows": rows})
}
