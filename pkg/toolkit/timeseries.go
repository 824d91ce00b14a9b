package toolkit

import "openoa/pkg/backend"

// ResampleAgg buckets a timeseries to a fixed frequency with the given
// aggregations.
//
// Parameters: "time_column" (string), "frequency" (string, e.g. "1h",
// "1mo"), "aggregations" ([]backend.Aggregation).
func ResampleAgg() *Toolkit {
	return &Toolkit{
		Name:    "resample",
		Version: "1.0",
		Doc:     "bucket a timeseries to a fixed frequency with the given aggregations",
		Steps: []Step{{
			Name: "resample",
			Fn: func(h *backend.Handle, p Params) (*backend.Handle, error) {
				tcol, err := p.String("time_column")
				if err != nil {
					return nil, err
				}
				freq, err := p.Frequency("frequency")
				if err != nil {
					return nil, err
				}
				aggs, err := p.Aggregations("aggregations")
				if err != nil {
					return nil, err
				}
				return h.Resample(tcol, freq, aggs...)
			},
		}},
	}
}

// GapFlag finds under-populated buckets: it resamples to the target
// frequency counting samples per bucket, then keeps buckets with fewer
// samples than expected. The output is a gap table (bucket start +
// sample count), the input to data-coverage screening before an energy
// assessment.
//
// Parameters: "time_column" (string), "frequency" (string),
// "expected_samples" (number: full-bucket sample count at the input's
// native resolution).
func GapFlag() *Toolkit {
	return &Toolkit{
		Name:    "gap_flag",
		Version: "1.0",
		Doc:     "find buckets with fewer samples than a full bucket should hold",
		Steps: []Step{
			{
				Name: "count_samples",
				Fn: func(h *backend.Handle, p Params) (*backend.Handle, error) {
					tcol, err := p.String("time_column")
					if err != nil {
						return nil, err
					}
					freq, err := p.Frequency("frequency")
					if err != nil {
						return nil, err
					}
					return h.Resample(tcol, freq,
						backend.Aggregation{Column: tcol, Func: backend.AggCount, As: "samples"})
				},
			},
			{
				Name: "keep_gaps",
				Fn: func(h *backend.Handle, p Params) (*backend.Handle, error) {
					expected, err := p.Float("expected_samples")
					if err != nil {
						return nil, err
					}
					return h.Filter(backend.Where("samples", backend.OpLt, int64(expected)))
				},
			},
		},
	}
}
