// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package amd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRocmSMIOutput = `{
	"card0": {
		"Card series": "Instinct MI250X",
		"Average Graphics Package Power (W)": "182.0",
		"VRAM Total Used Memory (B)": "1048576",
		"VRAM Total Memory (B)": "68719476736"
	},
	"card1": {
		"Card series": "Instinct MI250X",
		"Current Socket Graphics Package Power (W)": "55.5",
		"VRAM Total Used Memory (B)": "0",
		"VRAM Total Memory (B)": "68719476736"
	}
}`

func TestParseRocmSMIOutput(t *testing.T) {
	entries, err := parseRocmSMIOutput([]byte(sampleRocmSMIOutput))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Instinct MI250X", entries["card0"].Name)

	watts, err := entries["card0"].powerWatts()
	require.NoError(t, err)
	assert.InDelta(t, 182.0, watts, 0.001)

	// card1 only has the instantaneous socket power field
	watts, err = entries["card1"].powerWatts()
	require.NoError(t, err)
	assert.InDelta(t, 55.5, watts, 0.001)
}

func TestParseRocmSMIOutput_Invalid(t *testing.T) {
	_, err := parseRocmSMIOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestRocmSMIEntry_NoPowerField(t *testing.T) {
	e := rocmSMIEntry{Name: "headless"}
	_, err := e.powerWatts()
	assert.Error(t, err)
}

func TestSortedCardIDs(t *testing.T) {
	entries, err := parseRocmSMIOutput([]byte(sampleRocmSMIOutput))
	require.NoError(t, err)
	assert.Equal(t, []string{"card0", "card1"}, sortedCardIDs(entries))
}
