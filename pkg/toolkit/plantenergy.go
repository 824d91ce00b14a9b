package toolkit

import "openoa/pkg/backend"

// PlantEnergy is the standard meter preprocessing pipeline: range-flag the
// energy column, then resample period sums. It composes the range_flag
// toolkit rather than reimplementing it.
//
// Parameters: "column" (energy column), "min", "max" (plausible energy
// range per sample), "time_column", "frequency".
func PlantEnergy() *Toolkit {
	return &Toolkit{
		Name:    "plant_energy",
		Version: "1.0",
		Doc:     "range-flag an energy column and resample period sums",
		Steps: []Step{
			Use(RangeFlag()),
			{
				Name: "sum_periods",
				Fn: func(h *backend.Handle, p Params) (*backend.Handle, error) {
					tcol, err := p.String("time_column")
					if err != nil {
						return nil, err
					}
					freq, err := p.Frequency("frequency")
					if err != nil {
						return nil, err
					}
					col, err := p.String("column")
					if err != nil {
						return nil, err
					}
					return h.Resample(tcol, freq, backend.Sum(col))
				},
			},
		},
	}
}
