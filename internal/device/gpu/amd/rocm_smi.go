// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package amd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// rocmSMIEntry mirrors the per-card fields rocm-smi emits with
// --showid --showproductname --showpower --showmeminfo vram --json.
// Field names follow rocm-smi's own JSON keys, which vary by ROCm version;
// both the averaged package power and the instantaneous socket power are
// captured since only one is present depending on the driver.
type rocmSMIEntry struct {
	Name         string `json:"Card series"`
	PowerPackage string `json:"Average Graphics Package Power (W)"`
	PowerSocket  string `json:"Current Socket Graphics Package Power (W)"`
	MemoryUsed   string `json:"VRAM Total Used Memory (B)"`
	MemoryTotal  string `json:"VRAM Total Memory (B)"`
}

// powerWatts returns the entry's power reading, preferring the averaged
// package power and falling back to the instantaneous socket power.
func (e rocmSMIEntry) powerWatts() (float64, error) {
	s := e.PowerPackage
	if s == "" {
		s = e.PowerSocket
	}
	if s == "" {
		return 0, fmt.Errorf("rocm-smi entry has no power field")
	}
	return strconv.ParseFloat(s, 64)
}

// parseRocmSMIOutput unmarshals rocm-smi's --json output, keyed by card
// identifier (e.g. "card0").
func parseRocmSMIOutput(data []byte) (map[string]rocmSMIEntry, error) {
	var raw map[string]rocmSMIEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rocm-smi output: %w", err)
	}
	return raw, nil
}

// sortedCardIDs returns the card keys of a rocm-smi result in a stable,
// deterministic order so device indices stay consistent across calls.
func sortedCardIDs(entries map[string]rocmSMIEntry) []string {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
