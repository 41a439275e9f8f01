// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codejoule/codejoule/internal/device"
	"github.com/codejoule/codejoule/internal/timing"
)

// hwmonMeter is the subset of device.hwmonPowerMeter's surface the provider
// needs, mirroring raplMeter in rapl.go.
type hwmonMeter interface {
	Name() string
	Init() error
	Zones() ([]device.EnergyZone, error)
}

// HwmonCPUProvider implements Provider over hwmon power1_input/power1_average
// sensors (zenpower, k10temp and similar drivers), used as the last-resort
// CPU backend when neither RAPL powercap nor the RAPL MSR fallback is usable
// (spec.md §4.4.1's RAPL path covers the common case; this exists for the
// AMD boards that expose package power only through hwmon). Unlike RAPL,
// hwmon zones report instantaneous power rather than a cumulative energy
// counter, so energy here is the running trapezoidal integral of successive
// power samples rather than a counter.Manager-folded delta.
type HwmonCPUProvider struct {
	logger *slog.Logger
	meter  hwmonMeter
	timer  *timing.Timer

	mu           sync.Mutex
	available    bool
	haveSample   bool
	lastSampleNS uint64
	lastPowerW   map[string]float64
	cumJoules    map[string]float64

	measurementStats
}

// NewHwmonCPUProvider creates an hwmon-backed CPU provider over the given
// sysfs root (typically "/sys"), with opts forwarded to
// device.NewHwmonPowerMeter.
func NewHwmonCPUProvider(sysfsPath string, logger *slog.Logger, opts ...device.HwmonOptionFn) (*HwmonCPUProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	meter, err := device.NewHwmonPowerMeter(sysfsPath, opts...)
	if err != nil {
		return nil, err
	}
	return &HwmonCPUProvider{
		logger:     logger.With("provider", "hwmon-cpu"),
		meter:      meter,
		timer:      timing.New(),
		lastPowerW: make(map[string]float64),
		cumJoules:  make(map[string]float64),
	}, nil
}

func (h *HwmonCPUProvider) Name() string {
	return h.meter.Name()
}

func (h *HwmonCPUProvider) Initialize() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.timer.Initialize()

	if err := h.meter.Init(); err != nil {
		h.logger.Warn("hwmon CPU provider initialization failed", "error", err)
		h.available = false
		return false
	}

	if _, err := h.meter.Zones(); err != nil {
		h.logger.Warn("hwmon CPU provider has no usable zones", "error", err)
		h.available = false
		return false
	}

	h.available = true
	return true
}

func (h *HwmonCPUProvider) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

// GetReading integrates each zone's instantaneous power over the time
// elapsed since the previous sample into a running per-domain joule total.
// The first call for a zone contributes zero energy since there is no prior
// sample to integrate against.
func (h *HwmonCPUProvider) GetReading() EnergyReading {
	h.mu.Lock()
	defer h.mu.Unlock()

	timestampNS := h.timer.NowNS()

	if !h.available {
		h.recordFailure()
		return EnergyReading{TimestampNS: timestampNS, ProviderID: h.meter.Name()}
	}

	zones, err := h.meter.Zones()
	if err != nil {
		h.logger.Warn("failed to read hwmon zones", "error", err)
		h.recordFailure()
		return EnergyReading{TimestampNS: timestampNS, ProviderID: h.meter.Name()}
	}

	var dtSeconds float64
	if h.haveSample && timestampNS > h.lastSampleNS {
		dtSeconds = float64(timestampNS-h.lastSampleNS) / 1e9
	}

	domainWatts := make(map[string]float64, len(zones))
	var confidenceSum float64
	var confidenceCount int
	var domainsRead int

	for _, zone := range zones {
		pz, ok := zone.(device.PowerZone)
		if !ok {
			h.logger.Debug("hwmon zone does not expose instantaneous power, skipping", "zone", zone.Name())
			continue
		}

		watts, err := pz.Power()
		if err != nil {
			h.logger.Debug("failed to read hwmon zone power, skipping", "zone", zone.Name(), "error", err)
			continue
		}

		domain := strings.ToLower(zone.Name())
		w := watts.Watts()
		domainWatts[domain] = w
		domainsRead++

		if dtSeconds > 0 {
			// Trapezoidal rule: average of the previous and current power
			// sample over the elapsed interval.
			h.cumJoules[domain] += (h.lastPowerW[domain] + w) / 2 * dtSeconds
		}
		h.lastPowerW[domain] = w

		if cp, ok := zone.(device.ZoneConfidenceProvider); ok {
			confidenceSum += cp.Confidence()
			confidenceCount++
		}
	}

	if domainsRead == 0 {
		h.recordFailure()
		return EnergyReading{TimestampNS: timestampNS, ProviderID: h.meter.Name()}
	}

	h.lastSampleNS = timestampNS
	h.haveSample = true
	h.recordSuccess()

	domainJoules := make(map[string]float64, len(h.cumJoules))
	var totalJoules, totalWatts float64
	for domain, joules := range h.cumJoules {
		domainJoules[domain] = joules
		totalJoules += joules
	}
	for _, w := range domainWatts {
		totalWatts += w
	}

	confidence := 0.75
	if confidenceCount > 0 {
		confidence = confidenceSum / float64(confidenceCount)
	}

	return EnergyReading{
		TimestampNS:             timestampNS,
		ProviderID:              h.meter.Name(),
		EnergyJoules:            totalJoules,
		InstantaneousPowerWatts: totalWatts,
		AveragePowerWatts:       totalWatts,
		DomainEnergyJoules:      domainJoules,
		DomainPowerWatts:        domainWatts,
		Confidence:              confidence,
		UncertaintyPercent:      5.0,
		SampleCount:             1,
	}
}

func (h *HwmonCPUProvider) Specification() ProviderSpec {
	h.mu.Lock()
	defer h.mu.Unlock()

	var domains []string
	if zones, err := h.meter.Zones(); err == nil {
		for _, z := range zones {
			domains = append(domains, strings.ToLower(z.Name()))
		}
	}

	return ProviderSpec{
		HardwareType:           HardwareCPU,
		Vendor:                 "hwmon",
		Model:                  h.meter.Name(),
		MeasurementDomains:     domains,
		PowerResolutionWatts:   0.001,
		UpdateInterval:         10 * time.Millisecond,
		TypicalAccuracyPercent: 5.0,
		SupportedMetrics:       []string{"domain_energy_joules", "instantaneous_power_watts"},
	}
}

// SelfTest takes two readings 100ms apart and requires both valid with the
// total energy non-decreasing.
func (h *HwmonCPUProvider) SelfTest() bool {
	first := h.GetReading()
	if !first.Valid() {
		return false
	}

	time.Sleep(100 * time.Millisecond)

	second := h.GetReading()
	if !second.Valid() {
		return false
	}

	return second.EnergyJoules >= first.EnergyJoules
}

func (h *HwmonCPUProvider) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = false
}

var _ Provider = (*HwmonCPUProvider)(nil)
