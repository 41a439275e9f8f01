// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codejoule/codejoule/internal/config"
	"github.com/codejoule/codejoule/internal/device"
	"github.com/codejoule/codejoule/internal/device/gpu"
	"github.com/codejoule/codejoule/internal/provider"
)

const (
	raplSysfsRoot = "/sys/class/powercap"
	armSysfsRoot  = "/sys"
)

// providerEnabled reports whether name is enabled per cfg.Providers,
// defaulting to enabled when the CLI carries no explicit entry for it
// (spec.md §6: "providers.<name>.enabled").
func providerEnabled(cfg *config.Config, name string) bool {
	p, ok := cfg.Providers[name]
	if !ok {
		return true
	}
	return p.Enabled
}

// raplAccessOpts translates providers.rapl.access_method into the
// device.NewCPUPowerMeter options that select powercap vs MSR.
func raplAccessOpts(cfg *config.Config) []device.OptionFn {
	forceTrue, enableTrue := true, true

	switch cfg.Providers["rapl"].AccessMethod {
	case "msr":
		return []device.OptionFn{device.WithMSRConfig(device.MSRConfig{Force: &forceTrue})}
	case "sysfs":
		return nil
	default: // "auto" or unset
		return []device.OptionFn{device.WithMSRConfig(device.MSRConfig{Enabled: &enableTrue})}
	}
}

// buildProviders constructs every Provider permitted by cfg, probing the
// host for each hardware class. Providers that fail to construct (no
// backend library, no such device) are skipped, not treated as an error:
// the coordinator only needs whichever providers the host actually has.
func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) []provider.Provider {
	var providers []provider.Provider

	if providerEnabled(cfg, "rapl") {
		if rapl, err := provider.NewRAPLProvider(raplSysfsRoot, logger, raplAccessOpts(cfg)...); err != nil {
			logger.Debug("rapl provider unavailable", "error", err)
		} else {
			providers = append(providers, rapl)
		}

		// Some AMD boards expose package power only through an hwmon driver
		// (zenpower, k10temp) with no RAPL support at all. Construct it
		// alongside RAPL; Initialize() decides which, if any, actually work
		// on this host (internal/coordinator only activates providers whose
		// Initialize() succeeds).
		if hwmonCPU, err := provider.NewHwmonCPUProvider(armSysfsRoot, logger); err != nil {
			logger.Debug("hwmon CPU fallback unavailable", "error", err)
		} else {
			providers = append(providers, hwmonCPU)
		}
	}

	if providerEnabled(cfg, "gpu") {
		for _, meter := range gpu.DiscoverAll(ctx, logger) {
			providers = append(providers, provider.NewGPUProvider(meter, logger))
		}
	}

	if providerEnabled(cfg, "arm-soc") {
		zone, err := device.DiscoverARMSoCZone(armSysfsRoot, logger)
		if err != nil {
			logger.Debug("arm soc provider unavailable", "error", err)
		} else if zone != nil {
			providers = append(providers, provider.NewARMSoCProvider(zone, logger))
		}
	}

	return providers
}

// initSensors implements the init-sensors command: it initializes every
// constructible provider, prints which ones came up, and self-tests each
// (spec.md §6). Returns an error, and a non-zero exit code at the call
// site, only when no provider initializes (spec.md §7's "unavailable
// hardware").
func initSensors(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	providers := buildProviders(ctx, cfg, logger)
	if len(providers) == 0 {
		return fmt.Errorf("no energy provider could be constructed for this host")
	}

	available := 0
	for _, p := range providers {
		ok := p.Initialize()
		fmt.Printf("%-20s detected=%-5v", p.Name(), ok)
		if ok {
			available++
			selfTestOK := p.SelfTest()
			fmt.Printf(" self-test=%v\n", selfTestOK)
		} else {
			fmt.Println()
		}
		p.Shutdown()
	}

	if available == 0 {
		return fmt.Errorf("no energy provider initialized on this host")
	}
	return nil
}
