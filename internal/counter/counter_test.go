// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package counter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_Update_FirstObservation(t *testing.T) {
	m := NewManager()
	got := m.Update("pkg", 42, 32)
	assert.Equal(t, uint64(42), got)
}

func TestManager_Update_NoWraparound(t *testing.T) {
	m := NewManager()
	m.Update("pkg", 100, 32)
	got := m.Update("pkg", 150, 32)
	assert.Equal(t, uint64(150), got)
}

func TestManager_Update_Wraparound(t *testing.T) {
	const bits = 32
	max := uint64(1)<<bits - 1

	m := NewManager()

	got := m.Update("pkg", 0, bits)
	assert.Equal(t, uint64(0), got)

	got = m.Update("pkg", max, bits)
	assert.Equal(t, max, got)

	got = m.Update("pkg", 0, bits)
	assert.Equal(t, uint64(1)<<bits, got)

	assert.Equal(t, uint64(1), m.Wraparounds("pkg"))
}

func TestManager_Update_Monotonic(t *testing.T) {
	const bits = 16
	m := NewManager()

	raws := []uint64{10, 20, 65530, 5, 100, 65000, 65535, 0, 1}
	var prev uint64
	for i, raw := range raws {
		got := m.Update("domain", raw, bits)
		if i > 0 {
			assert.GreaterOrEqual(t, got, prev, "accumulated total must never decrease")
		}
		prev = got
	}
}

func TestManager_MultipleDomainsIndependent(t *testing.T) {
	m := NewManager()

	m.Update("pkg", 10, 32)
	m.Update("dram", 5, 32)

	pkg := m.Update("pkg", 20, 32)
	dram := m.Update("dram", 8, 32)

	assert.Equal(t, uint64(20), pkg)
	assert.Equal(t, uint64(8), dram)
}

func TestManager_Accumulated_UnknownDomain(t *testing.T) {
	m := NewManager()
	_, ok := m.Accumulated("nonexistent")
	assert.False(t, ok)
}

func TestManager_Reset(t *testing.T) {
	m := NewManager()
	m.Update("pkg", 100, 32)
	m.Reset()

	_, ok := m.Accumulated("pkg")
	assert.False(t, ok)

	got := m.Update("pkg", 5, 32)
	assert.Equal(t, uint64(5), got, "after reset, next update is treated as first observation")
}
