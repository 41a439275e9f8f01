// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codejoule/codejoule/internal/provider"
	"github.com/codejoule/codejoule/internal/service"
	"k8s.io/utils/clock"
)

// ErrCoordinatorRunning is returned by AddProvider/RemoveProvider when the
// coordinator's sampler is active; provider membership may only change
// while stopped (spec.md §5).
var ErrCoordinatorRunning = errors.New("coordinator: cannot modify providers while running")

// Coordinator owns a set of energy providers, samples them on a fixed
// interval, synthesizes SynchronizedReading values, and retires unhealthy
// providers into a Failed state for periodic restart attempts.
type Coordinator struct {
	logger *slog.Logger
	clock  clock.WithTicker

	interval       time.Duration
	healthInterval time.Duration
	restartInterval time.Duration

	crossValidationEnabled  bool
	crossValidationThreshold float64

	noiseFiltering NoiseFiltering
	emaAlpha       float64

	outlierDetectionEnabled  bool
	outlierWindow            int
	outlierSigmaThreshold    float64
	outlierConfidencePenalty float64

	consecutiveFailureThreshold int

	providersMu sync.RWMutex
	providers   map[string]*providerState
	order       []string // fixed emission order, append-only

	buffer *ringBuffer

	running atomic.Bool

	emaMu      sync.Mutex
	haveEMA    bool
	lastEMA    float64
	totalsHist []float64

	statsMu sync.Mutex
	stats   stats

	wg sync.WaitGroup
}

var _ service.Service = (*Coordinator)(nil)

// New creates a Coordinator. Providers are added with AddProvider before
// Run is called.
func New(applyOpts ...OptionFn) *Coordinator {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Coordinator{
		logger:                      opts.logger.With("service", "coordinator"),
		clock:                       opts.clock,
		interval:                    opts.interval,
		healthInterval:              opts.healthInterval,
		restartInterval:             opts.restartInterval,
		crossValidationEnabled:      opts.crossValidationEnabled,
		crossValidationThreshold:    opts.crossValidationThreshold,
		noiseFiltering:              opts.noiseFiltering,
		emaAlpha:                    opts.emaAlpha,
		outlierDetectionEnabled:     opts.outlierDetectionEnabled,
		outlierWindow:               opts.outlierWindow,
		outlierSigmaThreshold:       opts.outlierSigmaThreshold,
		outlierConfidencePenalty:    opts.outlierConfidencePenalty,
		consecutiveFailureThreshold: opts.consecutiveFailureThreshold,
		providers:                   make(map[string]*providerState),
		buffer:                      newRingBuffer(opts.bufferSize),
	}
}

func (c *Coordinator) Name() string { return "coordinator" }

// Init is a no-op: providers are registered explicitly via AddProvider,
// which already initializes each one.
func (c *Coordinator) Init(_ context.Context) error { return nil }

// AddProvider registers and initializes a provider. Only permitted while
// the coordinator is stopped.
func (c *Coordinator) AddProvider(p provider.Provider) error {
	if c.running.Load() {
		return ErrCoordinatorRunning
	}

	c.providersMu.Lock()
	defer c.providersMu.Unlock()

	name := p.Name()
	if !p.Initialize() {
		c.logger.Warn("provider failed to initialize", "provider", name)
	}

	if _, exists := c.providers[name]; !exists {
		c.order = append(c.order, name)
	}
	c.providers[name] = &providerState{provider: p, active: p.IsAvailable()}

	return nil
}

// RemoveProvider unregisters a provider. Only permitted while the
// coordinator is stopped.
func (c *Coordinator) RemoveProvider(name string) error {
	if c.running.Load() {
		return ErrCoordinatorRunning
	}

	c.providersMu.Lock()
	defer c.providersMu.Unlock()

	st, ok := c.providers[name]
	if !ok {
		return fmt.Errorf("coordinator: no such provider %q", name)
	}
	st.provider.Shutdown()
	delete(c.providers, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Run starts the sampler and health goroutines and blocks until ctx is
// cancelled, then joins both (spec.md §5 cancellation model).
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator running", "interval", c.interval)
	c.running.Store(true)

	c.wg.Add(2)
	go c.samplerLoop(ctx)
	go c.healthLoop(ctx)

	<-ctx.Done()
	c.wg.Wait()

	c.running.Store(false)
	c.logger.Info("coordinator stopped")
	return nil
}

func (c *Coordinator) Shutdown() error {
	c.providersMu.Lock()
	defer c.providersMu.Unlock()
	for _, st := range c.providers {
		st.provider.Shutdown()
	}
	return nil
}

func (c *Coordinator) samplerLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			reading := c.sample(true)
			c.buffer.push(reading)
		}
	}
}

func (c *Coordinator) healthLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.restartFailedProviders()
		}
	}
}

func (c *Coordinator) restartFailedProviders() {
	c.providersMu.Lock()
	defer c.providersMu.Unlock()

	now := c.clock.Now()
	for _, st := range c.providers {
		if !st.failed {
			continue
		}
		if now.Sub(st.lastRestartAttempt) < c.restartInterval {
			continue
		}
		st.lastRestartAttempt = now
		if st.provider.Initialize() {
			c.logger.Info("provider recovered", "provider", st.provider.Name())
			st.failed = false
			st.active = true
			st.consecutiveFailures = 0
		} else {
			c.logger.Debug("provider restart attempt failed", "provider", st.provider.Name())
		}
	}
}

// GetSynchronizedReading performs a one-shot read across active providers
// without touching the ring buffer (spec.md §4.5 "latest" path).
func (c *Coordinator) GetSynchronizedReading() SynchronizedReading {
	return c.sample(false)
}

// GetBufferedReadings returns every stored reading in chronological order.
func (c *Coordinator) GetBufferedReadings() []SynchronizedReading {
	return c.buffer.readings()
}

// SetBufferSize discards the current buffer and starts a new one of the
// given capacity.
func (c *Coordinator) SetBufferSize(n int) {
	c.buffer.reset(n)
}

// sample reads every active provider, in the fixed registration order,
// and synthesizes a SynchronizedReading. When filter is true, EMA and
// outlier-detection adjustments are applied to TotalSystemPowerWatts (the
// sampler loop path); the one-shot path skips both since it never
// participates in the EMA's consecutive-sample history.
func (c *Coordinator) sample(filter bool) SynchronizedReading {
	c.providersMu.RLock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	states := make(map[string]*providerState, len(c.providers))
	for k, v := range c.providers {
		states[k] = v
	}
	c.providersMu.RUnlock()

	var (
		readings        []provider.EnergyReading
		activePowers    []float64
		commonTS        uint64
		totalEnergy     float64
		totalPower      float64
		activeCount     int
		failedCount     int
	)

	for _, name := range names {
		st := states[name]
		if st == nil || !st.active {
			failedCount++
			continue
		}

		reading := st.provider.GetReading()
		c.recordProviderOutcome(name, reading.Valid())

		if !reading.Valid() {
			failedCount++
			continue
		}

		readings = append(readings, reading)
		activeCount++
		totalEnergy += reading.EnergyJoules
		totalPower += reading.AveragePowerWatts
		activePowers = append(activePowers, reading.AveragePowerWatts)
		if reading.TimestampNS > commonTS {
			commonTS = reading.TimestampNS
		}
	}

	result := SynchronizedReading{
		CommonTimestampNS:       commonTS,
		Readings:                readings,
		TotalSystemEnergyJoules: totalEnergy,
		TotalSystemPowerWatts:   totalPower,
		ProvidersActive:         activeCount,
		ProvidersFailed:         failedCount,
		TemporalAlignmentValid: commonTS > 0,
		CrossValidationPassed:   true,
		MeasurementConfidence:   1.0,
	}

	if c.crossValidationEnabled && len(activePowers) >= 2 {
		passed, maxDeviation := crossValidate(activePowers, c.crossValidationThreshold)
		result.CrossValidationPassed = passed
		result.MaxProviderDeviation = maxDeviation
	}

	if filter {
		if c.noiseFiltering != NoiseFilteringNone {
			result.TotalSystemPowerWatts = c.applyEMA(result.TotalSystemPowerWatts)
		}
		if c.outlierDetectionEnabled {
			if isOutlier := c.recordAndCheckOutlier(result.TotalSystemPowerWatts); isOutlier {
				result.MeasurementConfidence = math.Max(0, result.MeasurementConfidence-c.outlierConfidencePenalty)
			}
		}
	}

	c.statsMu.Lock()
	c.stats.totalSamples++
	if activeCount == 0 {
		c.stats.failedSamples++
	}
	c.statsMu.Unlock()

	return result
}

// recordProviderOutcome updates the provider's consecutive-failure count
// and trips it into the Failed state after consecutiveFailureThreshold
// failures in a row (spec.md §4.5/§4.9).
func (c *Coordinator) recordProviderOutcome(name string, ok bool) {
	c.providersMu.Lock()
	defer c.providersMu.Unlock()

	st, exists := c.providers[name]
	if !exists {
		return
	}

	if ok {
		st.consecutiveFailures = 0
		st.lastSuccessAt = c.clock.Now()
		return
	}

	st.consecutiveFailures++
	if st.consecutiveFailures >= c.consecutiveFailureThreshold {
		st.active = false
		st.failed = true
		c.logger.Warn("provider marked failed", "provider", name, "consecutive_failures", st.consecutiveFailures)
	}
}

// crossValidate reports whether every provider's average power is within
// threshold of the mean, and the largest observed relative deviation.
func crossValidate(powers []float64, threshold float64) (passed bool, maxDeviation float64) {
	var sum float64
	for _, p := range powers {
		sum += p
	}
	mean := sum / float64(len(powers))
	if mean == 0 {
		return true, 0
	}

	passed = true
	for _, p := range powers {
		deviation := math.Abs(p-mean) / mean
		if deviation > maxDeviation {
			maxDeviation = deviation
		}
		if deviation > threshold {
			passed = false
		}
	}
	return passed, maxDeviation
}

// applyEMA folds newTotal into the running exponential moving average
// (α = emaAlpha), seeding the average with the first sample.
func (c *Coordinator) applyEMA(newTotal float64) float64 {
	c.emaMu.Lock()
	defer c.emaMu.Unlock()

	if !c.haveEMA {
		c.lastEMA = newTotal
		c.haveEMA = true
		return newTotal
	}

	c.lastEMA = c.emaAlpha*newTotal + (1-c.emaAlpha)*c.lastEMA
	return c.lastEMA
}

// recordAndCheckOutlier appends total to a bounded rolling history and
// reports whether it deviates from the history's mean by more than
// outlierSigmaThreshold standard deviations.
func (c *Coordinator) recordAndCheckOutlier(total float64) bool {
	c.emaMu.Lock()
	defer c.emaMu.Unlock()

	isOutlier := false
	if len(c.totalsHist) >= 2 {
		mean, stddev := meanStddev(c.totalsHist)
		if math.Abs(total-mean) > c.outlierSigmaThreshold*stddev {
			isOutlier = true
		}
	}

	c.totalsHist = append(c.totalsHist, total)
	if len(c.totalsHist) > c.outlierWindow {
		c.totalsHist = c.totalsHist[len(c.totalsHist)-c.outlierWindow:]
	}

	return isOutlier
}

func meanStddev(values []float64) (mean, stddev float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}

// Stats returns the cumulative sample/failure counts.
func (c *Coordinator) Stats() (total, failed uint64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats.totalSamples, c.stats.failedSamples
}
