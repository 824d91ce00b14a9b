package backend

import (
	"fmt"
	"math"
	"sort"
)

// AggFunc names an aggregation kernel.
//
// Determinism contract: every kernel except first/last reduces its cells in
// a canonical order (numeric cells are sorted ascending before summation),
// so the result is identical regardless of row order or how the engine
// partitioned the data. Floating-point addition is not associative; without
// the canonical order the same bucket aggregated on two engines could
// differ in the last bit. first/last are defined by global row position
// and are the only order-sensitive kernels.
type AggFunc string

const (
	AggMean     AggFunc = "mean"
	AggSum      AggFunc = "sum"
	AggMin      AggFunc = "min"
	AggMax      AggFunc = "max"
	AggCount    AggFunc = "count"
	AggFirst    AggFunc = "first"
	AggLast     AggFunc = "last"
	AggStd      AggFunc = "std"
	AggCircMean AggFunc = "circmean" // circular mean of degrees, for wind direction
)

// Aggregation is one (column, function) pair in a resample or
// group_aggregate. As names the output column; empty As keeps the input
// column name.
type Aggregation struct {
	Column string
	Func   AggFunc
	As     string
}

// Mean is shorthand for Aggregation{Column: col, Func: AggMean}.
func Mean(col string) Aggregation { return Aggregation{Column: col, Func: AggMean} }

// Sum is shorthand for Aggregation{Column: col, Func: AggSum}.
func Sum(col string) Aggregation { return Aggregation{Column: col, Func: AggSum} }

// Count is shorthand for Aggregation{Column: col, Func: AggCount}.
func Count(col string) Aggregation { return Aggregation{Column: col, Func: AggCount} }

func (a Aggregation) outName() string {
	if a.As != "" {
		return a.As
	}
	return a.Column
}

// outKind returns the result kind of the aggregation over an input kind,
// or an error for invalid combinations (validated at plan-build time).
func (a Aggregation) outKind(in Kind) (Kind, error) {
	switch a.Func {
	case AggCount:
		return KindInt, nil
	case AggFirst, AggLast, AggMin, AggMax:
		return in, nil
	case AggMean, AggSum, AggStd, AggCircMean:
		if in != KindFloat && in != KindInt {
			return 0, fmt.Errorf("%s requires a numeric column, got %s", a.Func, in)
		}
		return KindFloat, nil
	}
	return 0, fmt.Errorf("unknown aggregation %q", a.Func)
}

// taggedCell is one input cell with its global sequence (row position in
// the logical input, partition-independent).
type taggedCell struct {
	v   any
	seq int64
}

// accumulator gathers the cells of one (key, column) pair. Engines
// guarantee each key is aggregated by exactly one worker, so no partial
// merging happens and the canonical reduction order is the sole source of
// float rounding.
type accumulator struct {
	fn    AggFunc
	cells []taggedCell
}

func newAccumulator(fn AggFunc) *accumulator { return &accumulator{fn: fn} }

// add feeds one cell; nil cells are skipped by every kernel except count's
// complement handling (count counts non-nil only, matching how missing
// plant samples drop out of means).
func (a *accumulator) add(v any, seq int64) {
	if v == nil {
		return
	}
	a.cells = append(a.cells, taggedCell{v: v, seq: seq})
}

// result reduces the gathered cells. Empty input yields nil (a missing
// cell), except count which yields 0.
func (a *accumulator) result() any {
	if a.fn == AggCount {
		return int64(len(a.cells))
	}
	if len(a.cells) == 0 {
		return nil
	}
	switch a.fn {
	case AggSum:
		return canonicalSum(a.floats())
	case AggMean:
		fs := a.floats()
		return canonicalSum(fs) / float64(len(fs))
	case AggStd:
		return sampleStd(a.floats())
	case AggCircMean:
		return circularMeanDeg(a.floats())
	case AggMin:
		return a.extreme(true)
	case AggMax:
		return a.extreme(false)
	case AggFirst:
		return a.edge(true)
	case AggLast:
		return a.edge(false)
	}
	return nil
}

func (a *accumulator) floats() []float64 {
	out := make([]float64, 0, len(a.cells))
	for _, c := range a.cells {
		if f, ok := asFloat(c.v); ok {
			out = append(out, f)
		}
	}
	return out
}

func (a *accumulator) extreme(wantMin bool) any {
	best := a.cells[0].v
	for _, c := range a.cells[1:] {
		cmp, err := compareCells(c.v, best)
		if err != nil {
			continue
		}
		if (wantMin && cmp < 0) || (!wantMin && cmp > 0) {
			best = c.v
		}
	}
	return best
}

func (a *accumulator) edge(first bool) any {
	best := a.cells[0]
	for _, c := range a.cells[1:] {
		if (first && c.seq < best.seq) || (!first && c.seq > best.seq) {
			best = c
		}
	}
	return best.v
}

// canonicalSum sorts ascending before adding, fixing the rounding order.
func canonicalSum(fs []float64) float64 {
	sort.Float64s(fs)
	var s float64
	for _, f := range fs {
		s += f
	}
	return s
}

// sampleStd is the n-1 standard deviation, nil for fewer than two samples.
func sampleStd(fs []float64) any {
	if len(fs) < 2 {
		return nil
	}
	n := float64(len(fs))
	mean := canonicalSum(fs) / n
	devs := make([]float64, len(fs))
	for i, f := range fs {
		d := f - mean
		devs[i] = d * d
	}
	return math.Sqrt(canonicalSum(devs) / (n - 1))
}

// circularMeanDeg averages angles on the unit circle, the correct mean for
// wind direction where 350° and 10° average to 0°, not 180°.
func circularMeanDeg(fs []float64) float64 {
	sins := make([]float64, len(fs))
	coss := make([]float64, len(fs))
	for i, f := range fs {
		rad := f * math.Pi / 180
		sins[i] = math.Sin(rad)
		coss[i] = math.Cos(rad)
	}
	deg := math.Atan2(canonicalSum(sins), canonicalSum(coss)) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}
