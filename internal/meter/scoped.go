// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package meter

import "sync"

// ScopedMeasurement is the RAII-style measurement wrapper from spec.md
// §4.6: it reads a baseline at construction, and on Close reads again and
// logs the difference, unless Stop was called first. Go has no
// destructors, so callers pair Scope with defer:
//
//	scope := m.Scope("request")
//	defer scope.Close()
type ScopedMeasurement struct {
	m        *Meter
	name     string
	baseline EnergyResult

	mu        sync.Mutex
	cancelled bool
}

// Scope starts a scoped measurement, taking the baseline reading now.
func (m *Meter) Scope(name string) *ScopedMeasurement {
	return &ScopedMeasurement{m: m, name: name, baseline: m.Read()}
}

// Stop cancels the scope: Close will no longer take an end reading or log.
func (s *ScopedMeasurement) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Close takes the end reading and logs the energy/power difference since
// the scope was opened, unless Stop was already called.
func (s *ScopedMeasurement) Close() {
	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		return
	}

	end := s.m.Read()
	diff := diffResults(s.baseline, end, s.baseline.uncertaintyPercent(), end.uncertaintyPercent())

	s.m.logger.Info("scoped measurement",
		"name", s.name,
		"energy_joules", diff.EnergyJoules,
		"average_power_watts", diff.AveragePowerWatts,
		"duration_seconds", diff.DurationSeconds,
		"valid", diff.Valid,
	)
}
