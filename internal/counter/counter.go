// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package counter accumulates monotonic running totals from raw hardware
// counters that wrap around at a fixed bit width, the same modular-delta
// technique kepler's AggregatedZone uses for RAPL energy registers.
package counter

import "sync"

// Manager is a stateful per-domain accumulator. All operations are
// serialized under a single mutex so a sample tick touching multiple
// domains is atomic relative to readers.
type Manager struct {
	mu    sync.Mutex
	state map[string]*domainState
}

type domainState struct {
	last          uint64
	accumulated   uint64
	wraparounds   uint64
	haveReading   bool
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{state: make(map[string]*domainState)}
}

// Update folds a new raw counter reading for domain into the running
// total, detecting wraparound using the counter's declared bit width. The
// returned value is the accumulated running total and is non-decreasing
// for a given domain across calls.
func (m *Manager) Update(domain string, raw uint64, bits uint) uint64 {
	return m.update(domain, raw, uint64(1)<<bits)
}

// UpdateWithModulus is the same fold as Update but for counters whose
// wraparound boundary isn't a power of two bit width, such as a
// hwmon-derived aggregated zone whose modulus is the sum of several
// sibling zones' individual maximum readings.
func (m *Manager) UpdateWithModulus(domain string, raw, modulus uint64) uint64 {
	return m.update(domain, raw, modulus)
}

func (m *Manager) update(domain string, raw, modulus uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state[domain]
	if !ok {
		s = &domainState{}
		m.state[domain] = s
	}

	if !s.haveReading {
		s.last = raw
		s.accumulated = raw
		s.haveReading = true
		return s.accumulated
	}

	var delta uint64
	if raw >= s.last {
		delta = raw - s.last
	} else {
		// Wraparound: the counter rolled over modulus before this reading.
		delta = (modulus - s.last) + raw
		s.wraparounds++
	}

	s.accumulated += delta
	s.last = raw
	return s.accumulated
}

// Accumulated returns the current running total for domain without taking
// a new reading. The second return value is false if domain has never
// been updated.
func (m *Manager) Accumulated(domain string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state[domain]
	if !ok {
		return 0, false
	}
	return s.accumulated, true
}

// Wraparounds returns the number of wraparound events observed for domain,
// exposed for diagnostics.
func (m *Manager) Wraparounds(domain string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.state[domain]
	if !ok {
		return 0
	}
	return s.wraparounds
}

// Reset clears all accumulated state, forcing the next Update for every
// domain to be treated as a first observation.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = make(map[string]*domainState)
}
