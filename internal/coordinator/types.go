// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator owns a set of energy providers, samples them on a
// fixed interval, cross-validates and filters the result, and exposes a
// ring buffer of synchronized readings alongside a one-shot "latest" read.
package coordinator

import (
	"time"

	"github.com/codejoule/codejoule/internal/provider"
)

// SynchronizedReading is one sample tick across every active provider.
type SynchronizedReading struct {
	CommonTimestampNS uint64
	Readings          []provider.EnergyReading

	TotalSystemEnergyJoules float64
	TotalSystemPowerWatts   float64

	ProvidersActive int
	ProvidersFailed int

	TemporalAlignmentValid bool
	CrossValidationPassed  bool
	MaxProviderDeviation   float64

	MeasurementConfidence float64
}

// providerState tracks the Active/Failed state machine for one registered
// provider (spec.md §4.5 / §3 ProviderState).
type providerState struct {
	provider            provider.Provider
	active              bool
	failed              bool
	consecutiveFailures int
	lastSuccessAt       time.Time
	lastRestartAttempt  time.Time
}

// stats accumulates coordinator-wide sampling statistics.
type stats struct {
	totalSamples  uint64
	failedSamples uint64
}
