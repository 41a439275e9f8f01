// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package correlator

// Per-language baseline instrumentation overhead, in joules, before the
// per-checkpoint-type multiplier below is applied (spec.md §4.7 step 4;
// a function_enter checkpoint costs 1.2x this baseline). Native/compiled
// languages see a far smaller baseline than interpreted ones, mirroring
// original_source/core/include/energy_code_mapper.hpp's
// language_overheads_ table.
var languageBaselineJoules = map[string]float64{
	"python":     5e-6,
	"ruby":       5e-6,
	"javascript": 5e-6,
	"go":         1e-6,
	"rust":       1e-6,
	"c":          1e-6,
	"cpp":        1e-6,
	"java":       2.5e-6,
}

const defaultLanguageBaselineJoules = 5e-6

// checkpointTypeMultiplier scales the per-language baseline by checkpoint
// kind (spec.md §4.7 step 4's enter/exit/loop/expression/call/assignment
// multipliers). Types not listed use 1.0.
var checkpointTypeMultiplier = map[CheckpointType]float64{
	FunctionEnter: 1.2,
	FunctionExit:  1.0,
	LoopStart:     0.8,
	Expression:    0.6,
	Call:          1.0,
	Assignment:    0.5,
}

const defaultCheckpointTypeMultiplier = 1.0

// instrumentationOverhead returns the estimated per-checkpoint overhead
// energy to subtract, for language and checkpoint type t.
func instrumentationOverhead(language string, t CheckpointType) float64 {
	baseline, ok := languageBaselineJoules[language]
	if !ok {
		baseline = defaultLanguageBaselineJoules
	}

	multiplier, ok := checkpointTypeMultiplier[t]
	if !ok {
		multiplier = defaultCheckpointTypeMultiplier
	}

	return baseline * multiplier
}

// compensateOverhead subtracts the instrumentation overhead from measured,
// only when measured exceeds twice the overhead (spec.md §4.7 step 4:
// "Only compensate when measured energy exceeds 2x the baseline,
// preventing negative results"). Otherwise measured is returned unchanged.
func compensateOverhead(measured float64, language string, t CheckpointType) float64 {
	overhead := instrumentationOverhead(language, t)
	if measured > 2*overhead {
		return measured - overhead
	}
	return measured
}
