// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package meter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codejoule/codejoule/internal/coordinator"
	"github.com/codejoule/codejoule/internal/timing"
)

// Source is the subset of *coordinator.Coordinator the meter depends on,
// narrowed so tests can substitute a fake without a real provider set.
type Source interface {
	GetSynchronizedReading() coordinator.SynchronizedReading
	GetBufferedReadings() []coordinator.SynchronizedReading
}

// Meter is the thread-safe Energy Meter façade (spec.md §4.6). Marker
// recording uses its own mutex so it never blocks on coordinator I/O;
// the session table uses a separate mutex, per spec.md §5.
type Meter struct {
	logger *slog.Logger
	source Source
	timer  *timing.Timer

	markersMu sync.Mutex
	markers   []Marker

	sessionsMu sync.Mutex
	sessions   map[string]*sessionBaseline
}

// New creates a Meter reading from source (typically a *coordinator.Coordinator).
func New(source Source, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	t := timing.New()
	t.Initialize()
	return &Meter{
		logger:   logger.With("component", "meter"),
		source:   source,
		timer:    t,
		sessions: make(map[string]*sessionBaseline),
	}
}

// Read takes one synchronized reading and wraps it as an EnergyResult.
func (m *Meter) Read() EnergyResult {
	return resultFromReading(m.source.GetSynchronizedReading())
}

// Measure reads a baseline, invokes workload, reads again, and returns the
// difference with combined uncertainty. If workload returns an error, the
// end reading is still taken and the result is marked invalid before the
// error is propagated to the caller (spec.md §4.6 / §7).
func (m *Meter) Measure(workload func() error) (EnergyDifference, error) {
	baseline := m.Read()

	workloadErr := workload()

	end := m.Read()
	diff := diffResults(baseline, end, baseline.uncertaintyPercent(), end.uncertaintyPercent())

	if workloadErr != nil {
		diff.Valid = false
		diff.Err = workloadErr
		return diff, workloadErr
	}

	return diff, nil
}

// StartSession opens a named span and returns its id, formatted as
// "<timestamp_ns>-<random suffix>" per spec.md §4.7 step 1 (reused here
// for the meter's simpler, unconnected session span).
func (m *Meter) StartSession(name string) string {
	id := fmt.Sprintf("%d-%s", m.timer.NowNS(), uuid.NewString()[:8])

	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	m.sessions[id] = &sessionBaseline{
		name:     name,
		started:  time.Now(),
		baseline: m.Read(),
	}

	return id
}

// ErrSessionNotFound is returned by EndSession for an unknown id.
type ErrSessionNotFound struct{ ID string }

func (e ErrSessionNotFound) Error() string {
	return fmt.Sprintf("meter: no such session %q", e.ID)
}

// EndSession closes a span opened with StartSession and returns the
// energy difference across its lifetime. Returns an invalid difference
// and ErrSessionNotFound if id is unknown (spec.md §7).
func (m *Meter) EndSession(id string) (EnergyDifference, error) {
	m.sessionsMu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.sessionsMu.Unlock()

	if !ok {
		return EnergyDifference{}, ErrSessionNotFound{ID: id}
	}

	end := m.Read()
	return diffResults(session.baseline, end, session.baseline.uncertaintyPercent(), end.uncertaintyPercent()), nil
}

// MarkCheckpoint records a named marker at the timer's current timestamp.
func (m *Meter) MarkCheckpoint(name string) {
	ts := m.timer.NowNS()

	m.markersMu.Lock()
	defer m.markersMu.Unlock()
	m.markers = append(m.markers, Marker{Name: name, TimestampNS: ts})
}

// GetCheckpointMeasurements returns, for every recorded marker, the
// interpolated cumulative energy and instantaneous power found by
// locating the bracketing pair of ring-buffer readings and linearly
// interpolating between them (spec.md §4.6).
func (m *Meter) GetCheckpointMeasurements() []CorrelatedCheckpoint {
	m.markersMu.Lock()
	markers := make([]Marker, len(m.markers))
	copy(markers, m.markers)
	m.markersMu.Unlock()

	readings := m.source.GetBufferedReadings()
	if len(readings) == 0 {
		out := make([]CorrelatedCheckpoint, len(markers))
		for i, mk := range markers {
			out[i] = CorrelatedCheckpoint{Name: mk.Name, TimestampNS: mk.TimestampNS}
		}
		return out
	}

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].CommonTimestampNS < readings[j].CommonTimestampNS
	})

	out := make([]CorrelatedCheckpoint, len(markers))
	for i, mk := range markers {
		out[i] = interpolate(mk, readings)
	}
	return out
}

// interpolate locates the bracketing readings around marker.TimestampNS and
// linearly interpolates cumulative energy and power between them. A
// marker before the first reading or after the last uses that nearest
// reading's values directly (spec.md §4.6 edge handling).
func interpolate(mk Marker, readings []coordinator.SynchronizedReading) CorrelatedCheckpoint {
	if mk.TimestampNS <= readings[0].CommonTimestampNS {
		r := readings[0]
		return CorrelatedCheckpoint{Name: mk.Name, TimestampNS: mk.TimestampNS, EnergyJoules: r.TotalSystemEnergyJoules, PowerWatts: r.TotalSystemPowerWatts}
	}
	last := readings[len(readings)-1]
	if mk.TimestampNS >= last.CommonTimestampNS {
		return CorrelatedCheckpoint{Name: mk.Name, TimestampNS: mk.TimestampNS, EnergyJoules: last.TotalSystemEnergyJoules, PowerWatts: last.TotalSystemPowerWatts}
	}

	for i := 1; i < len(readings); i++ {
		r1, r2 := readings[i-1], readings[i]
		if mk.TimestampNS < r1.CommonTimestampNS || mk.TimestampNS > r2.CommonTimestampNS {
			continue
		}

		span := r2.CommonTimestampNS - r1.CommonTimestampNS
		var frac float64
		if span > 0 {
			frac = float64(mk.TimestampNS-r1.CommonTimestampNS) / float64(span)
		}

		energy := r1.TotalSystemEnergyJoules + frac*(r2.TotalSystemEnergyJoules-r1.TotalSystemEnergyJoules)
		power := r1.TotalSystemPowerWatts + frac*(r2.TotalSystemPowerWatts-r1.TotalSystemPowerWatts)

		return CorrelatedCheckpoint{Name: mk.Name, TimestampNS: mk.TimestampNS, EnergyJoules: energy, PowerWatts: power}
	}

	// Unreachable given the bracket checks above; fall back to the last
	// reading rather than panicking.
	return CorrelatedCheckpoint{Name: mk.Name, TimestampNS: mk.TimestampNS, EnergyJoules: last.TotalSystemEnergyJoules, PowerWatts: last.TotalSystemPowerWatts}
}
