// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package amd

import (
	"sync"
	"time"

	"github.com/codejoule/codejoule/internal/device"
)

// energyIntegrator accumulates cumulative energy from periodic instantaneous
// power samples using trapezoidal integration. Neither rocm-smi nor the
// amdgpu sysfs hwmon sensor exposes a cumulative energy register the way
// RAPL's energy_uj or NVML's GetTotalEnergy do, so GetTotalEnergy for AMD
// devices is synthesized from GetPowerUsage samples instead of read directly.
type energyIntegrator struct {
	mu sync.Mutex

	haveLast  bool
	lastAt    time.Time
	lastWatts float64

	cumulative device.Energy

	// samples retains a bounded, recent history of power readings so the
	// collector can report idle power the same way the NVIDIA collector
	// does. Halved instead of reset or left unbounded once it exceeds
	// maxSamples, keeping idle detection responsive to recent behavior.
	samples    []float64
	maxSamples int
}

func newEnergyIntegrator() *energyIntegrator {
	return &energyIntegrator{maxSamples: 10_000}
}

// add folds a new instantaneous power sample (Watts) taken at "at" into the
// running cumulative energy total and returns the updated total.
func (ei *energyIntegrator) add(at time.Time, watts float64) device.Energy {
	ei.mu.Lock()
	defer ei.mu.Unlock()

	if ei.haveLast {
		dt := at.Sub(ei.lastAt).Seconds()
		if dt > 0 {
			avgWatts := (ei.lastWatts + watts) / 2
			ei.cumulative += device.Energy(avgWatts * dt * 1_000_000)
		}
	}
	ei.lastAt = at
	ei.lastWatts = watts
	ei.haveLast = true

	ei.samples = append(ei.samples, watts)
	if len(ei.samples) > ei.maxSamples {
		half := len(ei.samples) / 2
		copy(ei.samples, ei.samples[half:])
		ei.samples = ei.samples[:len(ei.samples)-half]
	}

	return ei.cumulative
}

func (ei *energyIntegrator) minObserved() float64 {
	ei.mu.Lock()
	defer ei.mu.Unlock()
	if len(ei.samples) == 0 {
		return 0
	}
	min := ei.samples[0]
	for _, s := range ei.samples[1:] {
		if s < min {
			min = s
		}
	}
	return min
}

func (ei *energyIntegrator) total() device.Energy {
	ei.mu.Lock()
	defer ei.mu.Unlock()
	return ei.cumulative
}
