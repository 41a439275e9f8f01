// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"math"
	"sync"

	"github.com/codejoule/codejoule/internal/counter"
)

type Zone = string

const (
	ZonePackage Zone = "package"
	ZoneCore    Zone = "core"
	ZoneDRAM    Zone = "dram"
	ZoneUncore  Zone = "uncore"
	ZonePSys    Zone = "psys"
	ZonePP0     Zone = "pp0" // Power Plane 0 - processor cores
	ZonePP1     Zone = "pp1" // Power Plane 1 - uncore (e.g., integrated GPU)
)

// zoneKey uniquely identifies a zone by name and index
type zoneKey struct {
	name  string
	index int
}

// AggregatedZone implements EnergyZone interface by aggregating multiple zones
// of the same type (e.g., multiple package zones in multi-socket systems).
// Per-zone wraparound accumulation is delegated to a counter.Manager so the
// same §4.3-style modular-delta algorithm backs both this device-layer view
// and the provider-layer domain readings (internal/provider/rapl.go,
// internal/provider/arm_soc.go) instead of keeping a second copy here.
type AggregatedZone struct {
	name      string
	index     int
	zones     []EnergyZone
	counts    *counter.Manager
	maxEnergy Energy // Cached sum of all zone MaxEnergy values
	mu        sync.Mutex
}

// NewAggregatedZone creates a new AggregatedZone for zones of the same type
// The name is taken from the first zone
// Panics if zones is empty or nil
func NewAggregatedZone(zones []EnergyZone) *AggregatedZone {
	// Panic on invalid inputs
	if len(zones) == 0 {
		panic("NewAggregatedZone: zones cannot be empty")
	}

	// Use the first zone's name as the aggregated zone name
	name := zones[0].Name()
	// Calculate and cache the combined MaxEnergy during construction
	// Check for overflow when summing MaxEnergy values
	var totalMax Energy
	for _, zone := range zones {
		zoneMax := zone.MaxEnergy()
		// Check for overflow before adding
		if totalMax > 0 && zoneMax > math.MaxUint64-totalMax {
			// Overflow would occur, use MaxUint64 as safe maximum
			totalMax = Energy(math.MaxUint64)
			break
		}
		totalMax += zoneMax
	}

	return &AggregatedZone{
		name:      name,
		index:     -1, // Indicates this is an aggregated zone
		zones:     zones,
		counts:    counter.NewManager(),
		maxEnergy: totalMax, // Cache the combined MaxEnergy
	}
}

// Name returns the zone name
func (az *AggregatedZone) Name() string {
	return az.name
}

// Index returns the zone index (-1 for aggregated zones)
func (az *AggregatedZone) Index() int {
	return az.index
}

// Path returns path for the aggregated zone
func (az *AggregatedZone) Path() string {
	// TODO: decide if all the paths should be returned
	return fmt.Sprintf("aggregated-%s", az.name)
}

// Energy returns the total energy consumption across all aggregated zones,
// handling wrap-around for each individual zone via counter.Manager.
func (az *AggregatedZone) Energy() (Energy, error) {
	az.mu.Lock()
	defer az.mu.Unlock()

	var total uint64

	for _, zone := range az.zones {
		currentReading, err := zone.Energy()
		if err != nil {
			return 0, fmt.Errorf("no valid energy readings from aggregated zones - %s: %w", zone.Name(), err)
		}

		zoneID := fmt.Sprintf("%s#%d", zone.Name(), zone.Index())
		modulus := uint64(zone.MaxEnergy())
		if modulus == 0 {
			// Invalid MaxEnergy: fall back to a modulus wide enough that the
			// accumulator never treats a normal reading as a wraparound.
			modulus = math.MaxUint64
		}

		total += az.counts.UpdateWithModulus(zoneID, uint64(currentReading), modulus)
	}

	currentEnergy := Energy(total)

	// Wrap at maxEnergy boundary to match hardware counter behavior
	// This is required for the power attribution algorithm's calculateEnergyDelta()
	if az.maxEnergy > 0 {
		currentEnergy %= az.maxEnergy
	}

	return currentEnergy, nil
}

// MaxEnergy returns the cached sum of maximum energy values across all zones
// This provides the correct wrap boundary for delta calculations
func (az *AggregatedZone) MaxEnergy() Energy {
	return az.maxEnergy
}

// Confidence averages the ZoneConfidenceProvider value of every constituent
// zone, so a socket pairing a powercap package zone with an MSR-fallback
// one (mixed availability across sockets) reports something between the
// two rather than silently picking either extreme. Zones that don't
// implement ZoneConfidenceProvider contribute the package default of 0.9.
func (az *AggregatedZone) Confidence() float64 {
	var total float64
	for _, zone := range az.zones {
		if cp, ok := zone.(ZoneConfidenceProvider); ok {
			total += cp.Confidence()
		} else {
			total += 0.9
		}
	}
	return total / float64(len(az.zones))
}
