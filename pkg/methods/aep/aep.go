// Package aep registers the plant_aep method: a long-term annual energy
// production estimate from revenue-meter energy and SCADA wind speed.
//
// The preprocessing follows the standard operational-assessment shape:
// flag-filter the meter data, resample meter energy and losses to the
// assessment resolution, back out gross energy, screen periods with
// excessive losses, normalize by period windiness, and scale to a full
// year. Everything engine-facing goes through toolkits and the uniform
// operation set, so the method runs unchanged on any backend.
package aep

import (
	"context"
	"fmt"
	"time"

	"openoa/pkg/backend"
	"openoa/pkg/method"
	"openoa/pkg/toolkit"
)

// Role and column names for the method's input contracts.
const (
	RoleMeter = "meter"
	RoleScada = "scada"

	ColTime        = "timestamp"
	ColEnergy      = "energy_kwh"
	ColAvailLoss   = "availability_kwh"
	ColCurtailLoss = "curtailment_kwh"
	ColWindspeed   = "windspeed_ms"
)

const hoursPerYear = 8766 // calendar average, leap years included

// Definition returns the registrable plant_aep method.
func Definition() *method.Definition {
	return &method.Definition{
		Name:    "plant_aep",
		Version: "1.0",
		Doc:     "long-term AEP estimate from meter energy, recorded losses, and SCADA windiness",
		Roles: []method.Role{
			{
				Name: RoleMeter,
				Doc:  "revenue meter energy with recorded availability and curtailment losses",
				Columns: backend.Schema{
					{Name: ColTime, Kind: backend.KindTime},
					{Name: ColEnergy, Kind: backend.KindFloat},
					{Name: ColAvailLoss, Kind: backend.KindFloat},
					{Name: ColCurtailLoss, Kind: backend.KindFloat},
				},
			},
			{
				Name: RoleScada,
				Doc:  "turbine SCADA signals; only wind speed is consumed",
				Columns: backend.Schema{
					{Name: ColTime, Kind: backend.KindTime},
					{Name: ColWindspeed, Kind: backend.KindFloat},
				},
			},
		},
		Toolkits: []string{"range_flag@1.0", "resample@1.0"},
		Config: method.ConfigSchema{
			"time_resolution": {
				Kind:    method.ParamString,
				Doc:     "assessment period length",
				OneOf:   []string{"1mo", "1d"},
				Default: "1mo",
			},
			"loss_max": {
				Kind:    method.ParamFloat,
				Doc:     "max combined availability+curtailment loss fraction per period",
				Default: 0.2,
				Min:     method.FloatPtr(0),
				Max:     method.FloatPtr(1),
			},
			"energy_min": {
				Kind:    method.ParamFloat,
				Doc:     "low flag threshold for a single meter sample (kWh)",
				Default: 0.0,
			},
			"energy_max": {
				Kind:     method.ParamFloat,
				Doc:      "high flag threshold for a single meter sample (kWh)",
				Required: true,
				Min:      method.FloatPtr(0),
			},
			"windiness_correction": {
				Kind:    method.ParamBool,
				Doc:     "normalize each period by its wind speed relative to the campaign mean",
				Default: true,
			},
		},
		Run: run,
	}
}

func run(ctx context.Context, in *method.RunInput) (*backend.Handle, error) {
	resolution := in.String("time_resolution")
	freq := backend.MustFrequency(resolution)

	// Meter preprocessing: flag filter, then period sums.
	flagged, err := in.Toolkit("range_flag").ApplyTraced(in.Handle(RoleMeter), toolkit.Params{
		"column": ColEnergy,
		"min":    in.Float("energy_min"),
		"max":    in.Float("energy_max"),
	}, in.Trace)
	if err != nil {
		return nil, err
	}
	periods, err := in.Toolkit("resample").ApplyTraced(flagged, toolkit.Params{
		"time_column": ColTime,
		"frequency":   resolution,
		"aggregations": []backend.Aggregation{
			backend.Sum(ColEnergy),
			backend.Sum(ColAvailLoss),
			backend.Sum(ColCurtailLoss),
		},
	}, in.Trace)
	if err != nil {
		return nil, err
	}

	// SCADA windiness at the same resolution, joined onto the periods.
	wind, err := in.Toolkit("resample").ApplyTraced(in.Handle(RoleScada), toolkit.Params{
		"time_column":  ColTime,
		"frequency":    resolution,
		"aggregations": []backend.Aggregation{backend.Mean(ColWindspeed)},
	}, in.Trace)
	if err != nil {
		return nil, err
	}
	joined, err := periods.Join(wind, []string{ColTime}, backend.JoinLeft)
	if err != nil {
		return nil, err
	}

	frame, err := joined.Materialize(ctx)
	if err != nil {
		return nil, err
	}
	return estimate(in, frame, freq)
}

// estimate runs the scalar assessment over the materialized period table.
func estimate(in *method.RunInput, frame *backend.Frame, freq backend.Frequency) (*backend.Handle, error) {
	ti := frame.Schema.Index(ColTime)
	ei := frame.Schema.Index(ColEnergy)
	ai := frame.Schema.Index(ColAvailLoss)
	ci := frame.Schema.Index(ColCurtailLoss)
	wi := frame.Schema.Index(ColWindspeed)

	lossMax := in.Float("loss_max")

	type period struct {
		gross, avail, curtail, ws, hours float64
		hasWS                            bool
	}
	var used []period
	var skipped int
	var wsSum float64
	var wsCount int
	for _, row := range frame.Rows {
		energy := cellFloat(row[ei])
		avail := cellFloat(row[ai])
		curtail := cellFloat(row[ci])
		gross := energy + avail + curtail
		if gross <= 0 {
			skipped++
			continue
		}
		if (avail+curtail)/gross > lossMax {
			skipped++
			continue
		}
		start := row[ti].(time.Time)
		p := period{
			gross:   gross,
			avail:   avail,
			curtail: curtail,
			hours:   freq.Next(start).Sub(start).Hours(),
		}
		if row[wi] != nil {
			p.ws = cellFloat(row[wi])
			p.hasWS = true
			wsSum += p.ws
			wsCount++
		}
		used = append(used, p)
	}
	if len(used) == 0 {
		return nil, fmt.Errorf("aep: no periods usable after loss screening (%d skipped)", skipped)
	}
	if skipped > 0 {
		in.Log.Warn("periods skipped by loss screening", "skipped", skipped, "used", len(used))
	}

	correct := in.Config["windiness_correction"].(bool) && wsCount > 0
	meanWS := 0.0
	if correct {
		meanWS = wsSum / float64(wsCount)
	}

	var grossTotal, availTotal, curtailTotal, hoursTotal float64
	for _, p := range used {
		g := p.gross
		if correct && p.hasWS && p.ws > 0 {
			// Windy periods are scaled down, calm periods up, toward the
			// campaign-mean wind climate.
			g *= meanWS / p.ws
		}
		grossTotal += g
		availTotal += p.avail
		curtailTotal += p.curtail
		hoursTotal += p.hours
	}

	aep := grossTotal * hoursPerYear / hoursTotal
	out := backend.NewFrame(backend.Schema{
		{Name: "aep_kwh", Kind: backend.KindFloat},
		{Name: "periods_used", Kind: backend.KindInt},
		{Name: "periods_skipped", Kind: backend.KindInt},
		{Name: "availability_loss_pct", Kind: backend.KindFloat},
		{Name: "curtailment_loss_pct", Kind: backend.KindFloat},
	})
	out.Append([]any{
		aep,
		int64(len(used)),
		int64(skipped),
		100 * availTotal / grossTotal,
		100 * curtailTotal / grossTotal,
	})
	return backend.NewHandle(in.Handle(RoleMeter).Engine(), out)
}

func cellFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
