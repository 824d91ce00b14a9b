// Package loader reads CSV files into backend frames against a declared
// column contract. Headers are matched by name, timestamps are parsed as
// RFC 3339 and normalized to UTC, and empty cells become missing values.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"openoa/pkg/backend"
)

// Contract declares the columns a CSV file must provide. Extra columns in
// the file are ignored; missing or wrongly-typed ones are a SchemaError.
type Contract struct {
	Columns backend.Schema
}

// LoadFile opens path and reads it with Load.
func LoadFile(path string, c Contract) (*backend.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	defer f.Close()
	frame, err := Load(f, c)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}
	return frame, nil
}

// Load reads CSV from r into a frame with the contract's schema, in file
// row order.
func Load(r io.Reader, c Contract) (*backend.Frame, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	colIdx := make([]int, len(c.Columns))
	for i, col := range c.Columns {
		colIdx[i] = -1
		for j, name := range header {
			if name == col.Name {
				colIdx[i] = j
				break
			}
		}
		if colIdx[i] < 0 {
			return nil, &backend.SchemaError{Column: col.Name, Detail: "column missing from CSV header"}
		}
	}

	frame := backend.NewFrame(c.Columns)
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++
		row := make([]any, len(c.Columns))
		for i, col := range c.Columns {
			cell, err := parseCell(record[colIdx[i]], col.Kind)
			if err != nil {
				return nil, &backend.SchemaError{
					Column: col.Name,
					Detail: fmt.Sprintf("line %d: %v", line, err),
				}
			}
			row[i] = cell
		}
		frame.Append(row)
	}
	return frame, nil
}

func parseCell(s string, kind backend.Kind) (any, error) {
	if s == "" {
		return nil, nil
	}
	switch kind {
	case backend.KindTime:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case backend.KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case backend.KindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case backend.KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		return b, nil
	case backend.KindString:
		return s, nil
	}
	return nil, fmt.Errorf("unsupported kind %s", kind)
}
