// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build arm64

package timing

// tscCycles is implemented in tsc_arm64.s, reading the CNTVCT_EL0 virtual
// counter register (arm64's invariant-TSC analogue).
func tscCycles() uint64

func tscSupported() bool {
	return true
}

func readTSC() uint64 {
	return tscCycles()
}
