/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package device

// EnergyZone represents a measurable energy or power zone/domain exposed by a power meter.
// An EnergyZone typically represents a logical zone of the hardware unit, e.g. cpu core, cpu package
// dram, uncore etc.
// Reference: https://firefox-source-docs.mozilla.org/performance/power_profiling_overview.html
type EnergyZone interface {

	// Name() returns the zone name
	Name() string

	// Index() returns the index of the zone
	Index() int

	// Path() returns the path from which the energy usage value ie being read
	Path() string

	// Energy() returns energy consumed by the zone, or an error if the
	// underlying counter could not be read.
	Energy() (Energy, error)

	// MaxEnergy returns  the maximum value of energy usage that can be read.
	// When energy usage reaches this value, the energy value returned by Energy()
	// will wrap around and start again from zero.
	MaxEnergy() Energy
}

// CPUPowerMeter implements powerMeter
type CPUPowerMeter interface {
	powerMeter

	// Zones() returns a slice of the energy measurement zones
	Zones() ([]EnergyZone, error)
}

// ZoneConfidenceProvider is satisfied by an EnergyZone that can self-report
// how trustworthy its readings are. A Provider (internal/provider) type-asserts
// for this optional capability so per-zone accuracy differences — a direct
// RAPL energy register versus an hwmon sensor the driver only samples
// periodically, or an MSR fallback read under the PLATYPUS mitigations —
// flow into the EnergyReading.Confidence the rest of CodeJoule consumes,
// instead of every provider hard-coding one confidence value for its whole
// meter regardless of which zone produced the number.
type ZoneConfidenceProvider interface {
	// Confidence returns a value in [0, 1]; 1.0 means a direct, regularly
	// refreshed hardware energy counter, lower values reflect sampled or
	// derived readings.
	Confidence() float64
}
