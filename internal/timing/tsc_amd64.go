// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build amd64

package timing

// tscCycles is implemented in tsc_amd64.s using the RDTSC instruction.
func tscCycles() uint64

func tscSupported() bool {
	return true
}

func readTSC() uint64 {
	return tscCycles()
}
