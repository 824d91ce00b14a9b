package toolkit

import "openoa/pkg/backend"

// RangeFlag keeps rows whose value column lies inside [min, max] and drops
// missing values. This is the workhorse flag filter of plant-data
// cleaning: out-of-range power or wind speed samples are sensor faults,
// not physics.
//
// Parameters: "column" (string), "min" (number), "max" (number).
func RangeFlag() *Toolkit {
	return &Toolkit{
		Name:    "range_flag",
		Version: "1.0",
		Doc:     "keep rows with column value inside [min, max]; missing values are dropped",
		Steps: []Step{{
			Name: "filter_range",
			Fn: func(h *backend.Handle, p Params) (*backend.Handle, error) {
				col, err := p.String("column")
				if err != nil {
					return nil, err
				}
				lo, err := p.Float("min")
				if err != nil {
					return nil, err
				}
				hi, err := p.Float("max")
				if err != nil {
					return nil, err
				}
				return h.Filter(backend.And(
					backend.NotNull(col),
					backend.Where(col, backend.OpGe, lo),
					backend.Where(col, backend.OpLe, hi),
				))
			},
		}},
	}
}

// WindowRangeFlag drops rows where the window column is inside its window
// but the value column falls outside [min, max]. Rows outside the window
// pass through untouched. Classic use: flag power readings that are
// implausible for the observed wind-speed window.
//
// Parameters: "window_column", "window_min", "window_max",
// "column", "min", "max".
func WindowRangeFlag() *Toolkit {
	return &Toolkit{
		Name:    "window_range_flag",
		Version: "1.0",
		Doc:     "inside the window on one column, require another column to be in range",
		Steps: []Step{{
			Name: "filter_window_range",
			Fn: func(h *backend.Handle, p Params) (*backend.Handle, error) {
				wcol, err := p.String("window_column")
				if err != nil {
					return nil, err
				}
				wlo, err := p.Float("window_min")
				if err != nil {
					return nil, err
				}
				whi, err := p.Float("window_max")
				if err != nil {
					return nil, err
				}
				col, err := p.String("column")
				if err != nil {
					return nil, err
				}
				lo, err := p.Float("min")
				if err != nil {
					return nil, err
				}
				hi, err := p.Float("max")
				if err != nil {
					return nil, err
				}
				inWindow := backend.And(
					backend.Where(wcol, backend.OpGe, wlo),
					backend.Where(wcol, backend.OpLe, whi),
				)
				inRange := backend.And(
					backend.NotNull(col),
					backend.Where(col, backend.OpGe, lo),
					backend.Where(col, backend.OpLe, hi),
				)
				return h.Filter(backend.Or(backend.Not(inWindow), inRange))
			},
		}},
	}
}
