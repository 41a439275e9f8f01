// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

// powerMeter is a generic interface for power meters which reads energy
// or power readings from hardware devices like CPU/GPU/DRAM etc
type powerMeter interface {
	// Name() returns a string identifying the power meter
	Name() string
}

// PowerZone is implemented by zones that expose an instantaneous power
// draw rather than a cumulative energy counter, such as hwmon's power1_input
// sensors. A Provider reading one of these has to integrate power over the
// sampling interval itself (see internal/provider's hwmon CPU fallback)
// instead of folding successive counter reads through internal/counter.
type PowerZone interface {
	EnergyZone

	// Power returns the zone's current instantaneous power draw.
	Power() (Power, error)
}
