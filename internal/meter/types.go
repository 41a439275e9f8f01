// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package meter provides the thread-safe Energy Meter façade (spec.md
// §4.6): one-shot reads, before/after measurement of a workload, named
// sessions, and checkpoint-marker interpolation against the coordinator's
// ring buffer.
package meter

import (
	"math"
	"time"

	"github.com/codejoule/codejoule/internal/coordinator"
	"github.com/codejoule/codejoule/internal/provider"
)

// EnergyResult wraps one SynchronizedReading as totals plus per-provider
// components.
type EnergyResult struct {
	TimestampNS     uint64
	TotalJoules     float64
	TotalPowerWatts float64
	Providers       []provider.EnergyReading
	Valid           bool
}

func resultFromReading(r coordinator.SynchronizedReading) EnergyResult {
	return EnergyResult{
		TimestampNS:     r.CommonTimestampNS,
		TotalJoules:     r.TotalSystemEnergyJoules,
		TotalPowerWatts: r.TotalSystemPowerWatts,
		Providers:       r.Readings,
		Valid:           r.ProvidersActive > 0,
	}
}

// uncertaintyPercent averages the contributing providers' reported
// uncertainty; used as each side of the combined-uncertainty calculation
// in EnergyDifference.
func (r EnergyResult) uncertaintyPercent() float64 {
	if len(r.Providers) == 0 {
		return 0
	}
	var sum float64
	for _, p := range r.Providers {
		sum += p.UncertaintyPercent
	}
	return sum / float64(len(r.Providers))
}

// EnergyDifference is the result of measuring a workload or a session span:
// an end reading minus a baseline reading, with combined uncertainty.
type EnergyDifference struct {
	Baseline           EnergyResult
	End                EnergyResult
	EnergyJoules       float64
	AveragePowerWatts  float64
	DurationSeconds    float64
	UncertaintyPercent float64
	Valid              bool
	Err                error
}

func diffResults(baseline, end EnergyResult, baselineUncertainty, endUncertainty float64) EnergyDifference {
	durationSeconds := float64(end.TimestampNS-baseline.TimestampNS) / 1e9
	energyJoules := end.TotalJoules - baseline.TotalJoules

	var avgPower float64
	if durationSeconds > 0 {
		avgPower = energyJoules / durationSeconds
	}

	return EnergyDifference{
		Baseline:           baseline,
		End:                end,
		EnergyJoules:       energyJoules,
		AveragePowerWatts:  avgPower,
		DurationSeconds:    durationSeconds,
		UncertaintyPercent: combinedUncertainty(baselineUncertainty, endUncertainty),
		Valid:              baseline.Valid && end.Valid,
	}
}

// combinedUncertainty implements spec.md §4.6's u = sqrt(u1^2 + u2^2).
func combinedUncertainty(u1, u2 float64) float64 {
	return math.Sqrt(u1*u1 + u2*u2)
}

// Marker records a named point in time for later interpolation against the
// coordinator's ring buffer (spec.md §3 Marker).
type Marker struct {
	Name        string
	TimestampNS uint64
}

// CorrelatedCheckpoint is a Marker with its interpolated cumulative energy
// and instantaneous power at the marker's timestamp.
type CorrelatedCheckpoint struct {
	Name        string
	TimestampNS uint64
	EnergyJoules float64
	PowerWatts   float64
}

// sessionBaseline is the recorded start-of-span reading for an open session.
type sessionBaseline struct {
	name     string
	started  time.Time
	baseline EnergyResult
}
