// Package units provides power/energy conversions and timezone helpers shared
// by the store and the HTTP layer.
package units

// EnergyKWh returns the energy in kilowatt-hours for a load of watts
// sustained for seconds. Non-positive inputs yield zero.
func EnergyKWh(watts, seconds float64) float64 {
	if watts <= 0 || seconds <= 0 {
		return 0
	}
	return watts * seconds / 3600.0 / 1000.0
}
