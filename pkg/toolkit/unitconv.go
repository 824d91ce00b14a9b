package toolkit

import "time"

// Unit conversions used at materialized boundaries. The operation set has
// no computed-column primitive, so scalar conversions happen in method
// code after materialize or on load.

// EnergyKWh converts average power in kW over an interval to energy in kWh.
func EnergyKWh(powerKW float64, interval time.Duration) float64 {
	return powerKW * interval.Hours()
}

// PowerKW converts energy in kWh over an interval back to average power in kW.
func PowerKW(energyKWh float64, interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return energyKWh / interval.Hours()
}

// WToKW converts watts to kilowatts.
func WToKW(w float64) float64 { return w / 1000 }

// KWToW converts kilowatts to watts.
func KWToW(kw float64) float64 { return kw * 1000 }

// KWhToMWh converts kilowatt-hours to megawatt-hours.
func KWhToMWh(kwh float64) float64 { return kwh / 1000 }
