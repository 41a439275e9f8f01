// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package amd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// discoverSysfsAMDPowerPaths scans /sys/class/drm/cardN/device/hwmon/hwmon*/
// for an amdgpu power1_average sensor, used when rocm-smi is not installed.
// cardN-<connector> symlinks (display outputs) are skipped; only the bare
// cardN device directories carry a power sensor.
func discoverSysfsAMDPowerPaths(drmRoot string) ([]string, error) {
	entries, err := os.ReadDir(drmRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read drm root %s: %w", drmRoot, err)
	}

	var cardNames []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "card") || strings.Contains(name, "-") {
			continue
		}
		cardNames = append(cardNames, name)
	}
	sort.Strings(cardNames)

	var paths []string
	for _, name := range cardNames {
		hwmonRoot := filepath.Join(drmRoot, name, "device", "hwmon")
		hwmonEntries, err := os.ReadDir(hwmonRoot)
		if err != nil {
			continue
		}
		for _, h := range hwmonEntries {
			p := filepath.Join(hwmonRoot, h.Name(), "power1_average")
			if _, err := os.Stat(p); err == nil {
				paths = append(paths, p)
				break
			}
		}
	}
	return paths, nil
}

// readSysfsPowerWatts reads an amdgpu power1_average file (microwatts) and
// converts it to Watts.
func readSysfsPowerWatts(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	microWatts, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return float64(microWatts) / 1_000_000, nil
}
