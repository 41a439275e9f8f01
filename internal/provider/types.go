// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the Energy Provider contract and wraps the
// concrete hardware backends in internal/device and internal/device/gpu
// behind it.
package provider

import "time"

// HardwareType identifies the class of hardware a provider measures.
type HardwareType string

const (
	HardwareCPU HardwareType = "cpu"
	HardwareGPU HardwareType = "gpu"
	HardwareSoC HardwareType = "soc"
)

// ProviderSpec describes a provider's hardware and measurement
// characteristics, used by the coordinator and front-end to report
// capabilities without taking a reading.
type ProviderSpec struct {
	HardwareType HardwareType
	Vendor       string
	Model        string

	MeasurementDomains []string

	EnergyResolutionJoules float64
	PowerResolutionWatts   float64
	UpdateInterval         time.Duration
	CounterWidthBits       int

	TypicalAccuracyPercent float64
	OverheadPercent        float64

	SupportFlags     map[string]bool
	SupportedMetrics []string
}

// EnergyReading is a single, immutable measurement produced by one
// provider call. Per-domain breakdowns are supplementary: EnergyJoules and
// AveragePowerWatts always reflect the provider's own non-overlapping
// domain-combination rule, not a sum of the domain maps.
type EnergyReading struct {
	TimestampNS uint64
	ProviderID  string

	EnergyJoules            float64
	InstantaneousPowerWatts float64
	AveragePowerWatts       float64

	DomainEnergyJoules map[string]float64
	DomainPowerWatts   map[string]float64

	Confidence         float64
	UncertaintyPercent float64
	SampleCount        uint64
}

// Valid reports whether the reading represents a successful measurement.
// Spec.md ties validity to confidence: a failed read always reports
// confidence 0.
func (r EnergyReading) Valid() bool {
	return r.Confidence > 0
}

// Provider is the contract every energy-measurement backend implements:
// RAPL, NVIDIA/AMD GPU, and ARM SoC.
type Provider interface {
	// Name identifies the provider instance (e.g. "rapl-powercap", "nvidia-gpu").
	Name() string

	// Initialize probes and prepares the underlying hardware. Returns false
	// if the hardware is unusable; the provider remains unavailable.
	Initialize() bool

	// GetReading takes one measurement. On failure it returns a reading
	// with Confidence 0 and increments the provider's failure count.
	GetReading() EnergyReading

	// Specification describes the provider's hardware and measurement
	// characteristics.
	Specification() ProviderSpec

	// SelfTest takes two readings 100ms apart and verifies both are valid
	// and that at least one domain is monotonically non-decreasing.
	SelfTest() bool

	// IsAvailable reports whether the provider's hardware was successfully
	// detected and initialized.
	IsAvailable() bool

	// Shutdown releases any resources held by the provider.
	Shutdown()
}
