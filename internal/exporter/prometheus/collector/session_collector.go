// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/codejoule/codejoule/internal/store"
)

// SessionSource is the subset of *store.Store the session collector
// depends on, narrowed for testability.
type SessionSource interface {
	ListSessions() ([]store.SessionSummary, error)
	GetFunctionStats(sessionID string) ([]store.FunctionStat, error)
}

const sessionSubsystem = "session"

// SessionCollector exposes the most recently persisted measurement
// session's totals and per-function energy breakdown as Prometheus
// metrics.
type SessionCollector struct {
	source SessionSource
	logger *slog.Logger

	sessionEnergyJoulesDesc *prometheus.Desc
	sessionAverageWattsDesc *prometheus.Desc
	sessionPeakWattsDesc    *prometheus.Desc
	sessionDurationDesc     *prometheus.Desc

	functionEnergyJoulesDesc *prometheus.Desc
	functionCallCountDesc    *prometheus.Desc
}

// NewSessionCollector creates a collector over source.
func NewSessionCollector(source SessionSource, logger *slog.Logger) *SessionCollector {
	sessionLabels := []string{"session_id", "file_path", "language"}

	return &SessionCollector{
		source: source,
		logger: logger.With("collector", "session"),

		sessionEnergyJoulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, sessionSubsystem, "energy_joules_total"),
			"Total energy consumed by the most recent measurement session", sessionLabels, nil),
		sessionAverageWattsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, sessionSubsystem, "average_power_watts"),
			"Average power draw over the most recent measurement session", sessionLabels, nil),
		sessionPeakWattsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, sessionSubsystem, "peak_power_watts"),
			"Peak power draw observed during the most recent measurement session", sessionLabels, nil),
		sessionDurationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, sessionSubsystem, "duration_seconds"),
			"Wall-clock duration of the most recent measurement session", sessionLabels, nil),

		functionEnergyJoulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, "function", "energy_joules_total"),
			"Total energy attributed to one function in the most recent session",
			[]string{"session_id", "function"}, nil),
		functionCallCountDesc: prometheus.NewDesc(
			prometheus.BuildFQName(keplerNS, "function", "call_count"),
			"Number of times one function's checkpoints were recorded in the most recent session",
			[]string{"session_id", "function"}, nil),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionEnergyJoulesDesc
	ch <- c.sessionAverageWattsDesc
	ch <- c.sessionPeakWattsDesc
	ch <- c.sessionDurationDesc
	ch <- c.functionEnergyJoulesDesc
	ch <- c.functionCallCountDesc
}

// Collect implements the prometheus.Collector interface.
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	sessions, err := c.source.ListSessions()
	if err != nil {
		c.logger.Error("Failed to list sessions", "error", err)
		return
	}
	if len(sessions) == 0 {
		c.logger.Debug("No persisted sessions to export metrics for")
		return
	}

	latest := sessions[0]
	labels := []string{latest.SessionID, latest.FilePath, latest.Language}

	ch <- prometheus.MustNewConstMetric(c.sessionEnergyJoulesDesc, prometheus.CounterValue, latest.TotalJoules, labels...)
	ch <- prometheus.MustNewConstMetric(c.sessionAverageWattsDesc, prometheus.GaugeValue, latest.AverageWatts, labels...)
	ch <- prometheus.MustNewConstMetric(c.sessionPeakWattsDesc, prometheus.GaugeValue, latest.PeakWatts, labels...)
	ch <- prometheus.MustNewConstMetric(c.sessionDurationDesc, prometheus.GaugeValue, latest.DurationSeconds, labels...)

	stats, err := c.source.GetFunctionStats(latest.SessionID)
	if err != nil {
		c.logger.Error("Failed to get function stats", "session", latest.SessionID, "error", err)
		return
	}
	for _, fs := range stats {
		ch <- prometheus.MustNewConstMetric(c.functionEnergyJoulesDesc, prometheus.CounterValue, fs.TotalJoules, latest.SessionID, fs.FunctionName)
		ch <- prometheus.MustNewConstMetric(c.functionCallCountDesc, prometheus.GaugeValue, float64(fs.CallCount), latest.SessionID, fs.FunctionName)
	}
}
