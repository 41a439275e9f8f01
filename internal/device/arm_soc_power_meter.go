// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// armSoCChipNames lists the hwmon chip "name" values that expose a
// cumulative SoC energy counter: SCMI-backed energy meters and vendor
// "arm_energy" nodes seen on several Arm SBCs and server SoCs.
var armSoCChipNames = map[string]bool{
	"scmi_energy": true,
	"arm_energy":  true,
}

// armSoCZone implements EnergyZone for a single Arm SoC energy1_input file.
// Unlike the voltage/current hwmon power sensors, this file already reports
// a cumulative energy counter in microjoules, directly analogous to RAPL's
// energy_uj.
type armSoCZone struct {
	path string
}

func (z *armSoCZone) Name() string { return "soc" }
func (z *armSoCZone) Index() int   { return 0 }
func (z *armSoCZone) Path() string { return z.path }

func (z *armSoCZone) Energy() (Energy, error) {
	data, err := sysReadFile(z.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read arm soc energy from %s: %w", z.path, err)
	}

	raw, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse arm soc energy from %s: %w", z.path, err)
	}

	return Energy(raw), nil
}

// MaxEnergy returns the wraparound boundary for a 64-bit microjoule
// counter; SCMI energy counters are exposed as u64 so wraparound under
// normal operation is not a practical concern, but the value is still
// reported for AggregatedZone-style wraparound handling.
func (z *armSoCZone) MaxEnergy() Energy {
	return Energy(^uint64(0))
}

// DiscoverARMSoCZone scans /sys/class/hwmon/* for an Arm SoC energy meter
// and returns its EnergyZone if found. Returns (nil, nil) when no matching
// chip is present, which is the expected outcome on non-Arm hosts.
func DiscoverARMSoCZone(sysfsPath string, logger *slog.Logger) (EnergyZone, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hwmonRoot := filepath.Join(sysfsPath, "class", "hwmon")
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read hwmon root %s: %w", hwmonRoot, err)
	}

	for _, entry := range entries {
		hwmonPath := filepath.Join(hwmonRoot, entry.Name())

		nameData, err := os.ReadFile(filepath.Join(hwmonPath, "name"))
		if err != nil {
			continue
		}

		chipName := strings.TrimSpace(string(nameData))
		if !armSoCChipNames[chipName] {
			continue
		}

		energyPath := filepath.Join(hwmonPath, "energy1_input")
		if _, err := os.Stat(energyPath); err != nil {
			logger.Debug("arm soc chip found but energy1_input missing", "chip", chipName, "path", hwmonPath)
			continue
		}

		logger.Info("discovered arm soc energy meter", "chip", chipName, "path", energyPath)
		return &armSoCZone{path: energyPath}, nil
	}

	return nil, nil
}
