// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/codejoule/codejoule/internal/coordinator"
)

// CoordinatorSource is the subset of *coordinator.Coordinator the energy
// collector depends on, narrowed for testability.
type CoordinatorSource interface {
	GetSynchronizedReading() coordinator.SynchronizedReading
	Stats() (total, failed uint64)
}

// EnergyCollector exposes the coordinator's latest synchronized reading --
// system totals plus per-provider breakdowns -- as Prometheus metrics.
type EnergyCollector struct {
	source CoordinatorSource
	logger *slog.Logger

	systemEnergyJoulesDesc *prometheus.Desc
	systemPowerWattsDesc   *prometheus.Desc
	providersActiveDesc    *prometheus.Desc
	providersFailedDesc    *prometheus.Desc
	crossValidationDesc    *prometheus.Desc
	maxDeviationDesc       *prometheus.Desc
	confidenceDesc         *prometheus.Desc

	providerEnergyJoulesDesc *prometheus.Desc
	providerPowerWattsDesc   *prometheus.Desc
	providerConfidenceDesc   *prometheus.Desc
	providerUncertaintyDesc  *prometheus.Desc

	samplesTotalDesc *prometheus.Desc
	samplesFailedDesc *prometheus.Desc
}

const systemSubsystem = "system"
const providerSubsystem = "provider"

// NewEnergyCollector creates a collector over source.
func NewEnergyCollector(source CoordinatorSource, logger *slog.Logger) *EnergyCollector {
	return &EnergyCollector{
		source: source,
		logger: logger.With("collector", "energy"),

		systemEnergyJoulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, systemSubsystem, "energy_joules_total"),
			"Cumulative system energy consumption in joules", nil, nil),
		systemPowerWattsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, systemSubsystem, "power_watts"),
			"Instantaneous system power draw in watts", nil, nil),
		providersActiveDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, systemSubsystem, "providers_active"),
			"Number of energy providers contributing to the latest reading", nil, nil),
		providersFailedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, systemSubsystem, "providers_failed"),
			"Number of energy providers that failed on the latest sample", nil, nil),
		crossValidationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, systemSubsystem, "cross_validation_passed"),
			"1 if the latest reading's providers agreed within threshold, 0 otherwise", nil, nil),
		maxDeviationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, systemSubsystem, "max_provider_deviation_ratio"),
			"Largest fractional deviation between providers on the latest reading", nil, nil),
		confidenceDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, systemSubsystem, "measurement_confidence"),
			"Combined confidence of the latest synchronized reading", nil, nil),

		providerEnergyJoulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, providerSubsystem, "energy_joules_total"),
			"Cumulative energy reported by one provider in joules",
			[]string{"provider"}, nil),
		providerPowerWattsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, providerSubsystem, "power_watts"),
			"Instantaneous power reported by one provider in watts",
			[]string{"provider"}, nil),
		providerConfidenceDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, providerSubsystem, "confidence"),
			"Confidence of one provider's latest reading",
			[]string{"provider"}, nil),
		providerUncertaintyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, providerSubsystem, "uncertainty_percent"),
			"Reported measurement uncertainty of one provider, in percent",
			[]string{"provider"}, nil),

		samplesTotalDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, systemSubsystem, "samples_total"),
			"Total number of coordinator sampling ticks", nil, nil),
		samplesFailedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, systemSubsystem, "samples_failed_total"),
			"Total number of coordinator sampling ticks with no active providers", nil, nil),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *EnergyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.systemEnergyJoulesDesc
	ch <- c.systemPowerWattsDesc
	ch <- c.providersActiveDesc
	ch <- c.providersFailedDesc
	ch <- c.crossValidationDesc
	ch <- c.maxDeviationDesc
	ch <- c.confidenceDesc
	ch <- c.providerEnergyJoulesDesc
	ch <- c.providerPowerWattsDesc
	ch <- c.providerConfidenceDesc
	ch <- c.providerUncertaintyDesc
	ch <- c.samplesTotalDesc
	ch <- c.samplesFailedDesc
}

// Collect implements the prometheus.Collector interface.
func (c *EnergyCollector) Collect(ch chan<- prometheus.Metric) {
	reading := c.source.GetSynchronizedReading()

	ch <- prometheus.MustNewConstMetric(c.systemEnergyJoulesDesc, prometheus.CounterValue, reading.TotalSystemEnergyJoules)
	ch <- prometheus.MustNewConstMetric(c.systemPowerWattsDesc, prometheus.GaugeValue, reading.TotalSystemPowerWatts)
	ch <- prometheus.MustNewConstMetric(c.providersActiveDesc, prometheus.GaugeValue, float64(reading.ProvidersActive))
	ch <- prometheus.MustNewConstMetric(c.providersFailedDesc, prometheus.GaugeValue, float64(reading.ProvidersFailed))
	ch <- prometheus.MustNewConstMetric(c.crossValidationDesc, prometheus.GaugeValue, boolToFloat(reading.CrossValidationPassed))
	ch <- prometheus.MustNewConstMetric(c.maxDeviationDesc, prometheus.GaugeValue, reading.MaxProviderDeviation)
	ch <- prometheus.MustNewConstMetric(c.confidenceDesc, prometheus.GaugeValue, reading.MeasurementConfidence)

	for _, r := range reading.Readings {
		ch <- prometheus.MustNewConstMetric(c.providerEnergyJoulesDesc, prometheus.CounterValue, r.EnergyJoules, r.ProviderID)
		ch <- prometheus.MustNewConstMetric(c.providerPowerWattsDesc, prometheus.GaugeValue, r.AveragePowerWatts, r.ProviderID)
		ch <- prometheus.MustNewConstMetric(c.providerConfidenceDesc, prometheus.GaugeValue, r.Confidence, r.ProviderID)
		ch <- prometheus.MustNewConstMetric(c.providerUncertaintyDesc, prometheus.GaugeValue, r.UncertaintyPercent, r.ProviderID)
	}

	total, failed := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.samplesTotalDesc, prometheus.CounterValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.samplesFailedDesc, prometheus.CounterValue, float64(failed))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
