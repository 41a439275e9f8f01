// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// NoiseFiltering selects the EMA strategy applied to total system power
// (spec.md §6 accuracy.noise_filtering).
type NoiseFiltering string

const (
	NoiseFilteringNone     NoiseFiltering = "none"
	NoiseFilteringBasic    NoiseFiltering = "basic"
	NoiseFilteringAdaptive NoiseFiltering = "adaptive"
)

// Opts holds coordinator configuration. Defaults match spec.md §4.5's
// "default" column; WithAccuracyMode switches every accuracy-sensitive
// field to its "accuracy mode" counterpart in one call.
type Opts struct {
	logger *slog.Logger
	clock  clock.WithTicker

	interval       time.Duration
	healthInterval time.Duration
	restartInterval time.Duration

	bufferSize int

	crossValidationEnabled   bool
	crossValidationThreshold float64 // fraction, e.g. 0.05 for 5%

	noiseFiltering NoiseFiltering
	emaAlpha       float64

	outlierDetectionEnabled bool
	outlierWindow           int
	outlierSigmaThreshold   float64
	outlierConfidencePenalty float64

	consecutiveFailureThreshold int
}

// DefaultOpts returns spec.md's default (non-accuracy) configuration.
func DefaultOpts() Opts {
	return Opts{
		logger:                      slog.Default(),
		clock:                       clock.RealClock{},
		interval:                    10 * time.Millisecond,
		healthInterval:              time.Second,
		restartInterval:             30 * time.Second,
		bufferSize:                  1000,
		crossValidationEnabled:      true,
		crossValidationThreshold:    0.05,
		noiseFiltering:              NoiseFilteringBasic,
		emaAlpha:                    0.1,
		outlierDetectionEnabled:     true,
		outlierWindow:               20,
		outlierSigmaThreshold:       2.0,
		outlierConfidencePenalty:    0.3,
		consecutiveFailureThreshold: 5,
	}
}

// OptionFn sets one or more options in Opts.
type OptionFn func(*Opts)

// WithAccuracyMode switches interval, restart interval, cross-validation
// threshold, and buffer size to spec.md's "accuracy mode" values.
func WithAccuracyMode() OptionFn {
	return func(o *Opts) {
		o.interval = time.Millisecond
		o.restartInterval = 10 * time.Second
		o.crossValidationThreshold = 0.02
		o.bufferSize = 100_000
	}
}

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) { o.logger = logger }
}

func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) { o.clock = c }
}

func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) { o.interval = d }
}

func WithHealthInterval(d time.Duration) OptionFn {
	return func(o *Opts) { o.healthInterval = d }
}

func WithRestartInterval(d time.Duration) OptionFn {
	return func(o *Opts) { o.restartInterval = d }
}

func WithBufferSize(n int) OptionFn {
	return func(o *Opts) { o.bufferSize = n }
}

func WithCrossValidation(enabled bool, threshold float64) OptionFn {
	return func(o *Opts) {
		o.crossValidationEnabled = enabled
		o.crossValidationThreshold = threshold
	}
}

func WithNoiseFiltering(nf NoiseFiltering) OptionFn {
	return func(o *Opts) { o.noiseFiltering = nf }
}

func WithOutlierDetection(enabled bool) OptionFn {
	return func(o *Opts) { o.outlierDetectionEnabled = enabled }
}

func WithConsecutiveFailureThreshold(n int) OptionFn {
	return func(o *Opts) { o.consecutiveFailureThreshold = n }
}
