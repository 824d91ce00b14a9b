package toolkit

import (
	"math"

	"openoa/pkg/backend"
)

// Met-data processing: pure physical corrections plus a wind-direction
// resampling toolkit. The pure functions have no engine dependency and may
// be used anywhere, including post-materialize in method code.

// StandardAirDensity is the reference density (kg/m³) used when a site
// does not supply its own.
const StandardAirDensity = 1.225

// AirDensityCorrectedSpeed normalizes a wind speed observation to the
// reference density: ws · (ρ/ρ₀)^(1/3), per IEC 61400-12-1.
func AirDensityCorrectedSpeed(ws, rho, rho0 float64) float64 {
	if rho <= 0 || rho0 <= 0 {
		return ws
	}
	return ws * math.Cbrt(rho/rho0)
}

// DegToRad converts wind direction degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180 }

// RadToDeg converts radians to degrees in [0, 360).
func RadToDeg(rad float64) float64 {
	deg := math.Mod(rad*180/math.Pi, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// DirectionResample buckets wind direction with the circular mean, the
// only mean that handles the 0°/360° wrap correctly.
//
// Parameters: "time_column" (string), "frequency" (string),
// "direction_column" (string).
func DirectionResample() *Toolkit {
	return &Toolkit{
		Name:    "direction_resample",
		Version: "1.0",
		Doc:     "resample wind direction with the circular mean",
		Steps: []Step{{
			Name: "circmean",
			Fn: func(h *backend.Handle, p Params) (*backend.Handle, error) {
				tcol, err := p.String("time_column")
				if err != nil {
					return nil, err
				}
				freq, err := p.Frequency("frequency")
				if err != nil {
					return nil, err
				}
				dcol, err := p.String("direction_column")
				if err != nil {
					return nil, err
				}
				return h.Resample(tcol, freq,
					backend.Aggregation{Column: dcol, Func: backend.AggCircMean})
			},
		}},
	}
}
