// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package correlator implements the Checkpoint Correlator (spec.md §4.7):
// it turns a stream of instrumentation checkpoints and the coordinator's
// energy readings into a finalized Session with per-checkpoint,
// per-function, per-type, and per-source-line energy attribution.
package correlator

import "time"

// CheckpointType is the closed enumeration of instrumentation checkpoint
// kinds (spec.md §3).
type CheckpointType string

const (
	FunctionEnter      CheckpointType = "function_enter"
	FunctionExit       CheckpointType = "function_exit"
	LoopStart          CheckpointType = "loop_start"
	Call               CheckpointType = "call"
	Expression         CheckpointType = "expression"
	Assignment         CheckpointType = "assignment"
	Conditional        CheckpointType = "conditional"
	ClassEnter         CheckpointType = "class_enter"
	ContextEnter       CheckpointType = "context_enter"
	ComprehensionStart CheckpointType = "comprehension_start"
)

// Checkpoint is a named program point emitted by the instrumentation
// front-end (spec.md §3).
type Checkpoint struct {
	ID      string
	Type    CheckpointType
	Name    string
	Line    int
	Column  int
	Context string

	// SourceLinesCovered lists every source line this checkpoint's energy
	// should be distributed over; falls back to []int{Line} when empty.
	SourceLinesCovered []int
}

// TimedCheckpoint is a Checkpoint correlated with an energy measurement.
type TimedCheckpoint struct {
	Checkpoint Checkpoint
	Timestamp  time.Time

	EnergyBeforeJoules float64
	EnergyAfterJoules  float64
	HasEnergyData      bool

	EnergyConsumedJoules float64
	PowerWatts           float64
	DurationSeconds      float64
}

// SourceLineEnergy accumulates energy attributed to one source line.
type SourceLineEnergy struct {
	Line                int
	LineText            string
	TotalJoules         float64
	ExecutionCount      int
	AveragePerExecution float64
	CheckpointIDs       []string
}

// Session is a finalized measurement session: ordered checkpoints plus
// aggregated totals and breakdowns (spec.md §3 Session).
type Session struct {
	SessionID string
	FilePath  string
	Language  string
	StartTime time.Time
	EndTime   time.Time

	Checkpoints []TimedCheckpoint

	TotalEnergyJoules float64
	AveragePowerWatts float64
	PeakPowerWatts    float64

	FunctionEnergyJoules map[string]float64
	TypeEnergyJoules     map[CheckpointType]float64
	LineEnergy           map[int]*SourceLineEnergy

	Hotspots []Hotspot
}

// Hotspot flags a function or checkpoint type whose energy share exceeds
// spec.md §4.7's thresholds, or an unusually peaky power profile.
type Hotspot struct {
	Kind        string // "function", "loop", "peak_to_average"
	Subject     string
	SharePercent float64
	Suggestion  string
}

// openSession is the correlator's in-progress session state, not yet
// finalized by EndSession.
type openSession struct {
	filePath string
	language string
	start    time.Time

	checkpoints []TimedCheckpoint
}
