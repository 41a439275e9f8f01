// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package correlator

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codejoule/codejoule/internal/coordinator"
	"github.com/codejoule/codejoule/internal/timing"
)

// EnergySource is the subset of the coordinator the correlator depends on
// to read cumulative system energy at checkpoint time.
type EnergySource interface {
	GetSynchronizedReading() coordinator.SynchronizedReading
}

// Correlator implements the Checkpoint Correlator (spec.md §4.7): it
// turns instrumentation checkpoints recorded against open sessions into
// finalized Sessions with correlated, overhead-compensated, statistically
// filtered energy attribution.
type Correlator struct {
	logger *slog.Logger
	source EnergySource
	timer  *timing.Timer

	mu       sync.Mutex
	sessions map[string]*openSession
}

// New creates a Correlator reading cumulative energy from source.
func New(source EnergySource, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	t := timing.New()
	t.Initialize()
	return &Correlator{
		logger:   logger.With("component", "correlator"),
		source:   source,
		timer:    t,
		sessions: make(map[string]*openSession),
	}
}

// StartSession opens a new measurement session for filePath/language and
// returns its id, formatted as "<timestamp_ns>-<random suffix>" per
// spec.md §4.7 step 1.
func (c *Correlator) StartSession(filePath, language string) string {
	id := fmt.Sprintf("%d-%s", c.timer.NowNS(), uuid.NewString()[:8])

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = &openSession{
		filePath: filePath,
		language: language,
		start:    time.Now(),
	}

	return id
}

// ErrSessionNotFound is returned when sessionID names no open session.
type ErrSessionNotFound struct{ SessionID string }

func (e ErrSessionNotFound) Error() string {
	return fmt.Sprintf("correlator: no such session %q", e.SessionID)
}

// RecordCheckpoint appends checkpoint to sessionID's stream, reading
// current cumulative system energy as EnergyBeforeJoules (spec.md §4.7
// step 2). The checkpoint's own EnergyAfterJoules is not yet known; it is
// filled in during EndSession once the next checkpoint (or the session
// end) is available.
func (c *Correlator) RecordCheckpoint(sessionID string, checkpoint Checkpoint) error {
	reading := c.source.GetSynchronizedReading()

	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound{SessionID: sessionID}
	}

	session.checkpoints = append(session.checkpoints, TimedCheckpoint{
		Checkpoint:         checkpoint,
		Timestamp:          time.Now(),
		EnergyBeforeJoules: reading.TotalSystemEnergyJoules,
		HasEnergyData:      validReading(reading),
	})

	return nil
}

// validReading reports whether a synchronized reading carries meaningful
// data, mirroring provider.EnergyReading.Valid()'s confidence-based
// definition at the coordinator level.
func validReading(r coordinator.SynchronizedReading) bool {
	return r.ProvidersActive > 0
}

// EndSession closes sessionID, correlates its checkpoints, compensates
// instrumentation overhead, applies statistical filtering, aggregates
// totals and breakdowns, builds the source-line energy map, and detects
// hotspots (spec.md §4.7 steps 3-8).
func (c *Correlator) EndSession(sessionID string) (*Session, error) {
	c.mu.Lock()
	open, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotFound{SessionID: sessionID}
	}

	endReading := c.source.GetSynchronizedReading()
	endTime := time.Now()

	checkpoints := correlateCheckpoints(open.checkpoints, endReading.TotalSystemEnergyJoules)

	for i := range checkpoints {
		checkpoints[i].EnergyConsumedJoules = compensateOverhead(
			checkpoints[i].EnergyConsumedJoules, open.language, checkpoints[i].Checkpoint.Type)
		if checkpoints[i].DurationSeconds > 0 {
			checkpoints[i].PowerWatts = checkpoints[i].EnergyConsumedJoules / checkpoints[i].DurationSeconds
		}
	}

	applyStatisticalFiltering(checkpoints)

	session := &Session{
		SessionID:            sessionID,
		FilePath:             open.filePath,
		Language:             open.language,
		StartTime:            open.start,
		EndTime:              endTime,
		Checkpoints:          checkpoints,
		FunctionEnergyJoules: make(map[string]float64),
		TypeEnergyJoules:     make(map[CheckpointType]float64),
		LineEnergy:           make(map[int]*SourceLineEnergy),
	}

	aggregate(session)
	buildSourceLineMapping(session, open.filePath)
	detectHotspots(session)

	return session, nil
}

// correlateCheckpoints computes the duration/energy/power deltas between
// consecutive checkpoints (spec.md §4.7 step 3). Per the correlator's
// design, EnergyAfterJoules for checkpoint i is the EnergyBeforeJoules of
// checkpoint i+1 (no fresh read is taken between them); the final
// checkpoint's EnergyAfterJoules comes from the session-end reading.
func correlateCheckpoints(checkpoints []TimedCheckpoint, endEnergyJoules float64) []TimedCheckpoint {
	out := make([]TimedCheckpoint, len(checkpoints))
	copy(out, checkpoints)

	for i := range out {
		if i+1 < len(out) {
			out[i].EnergyAfterJoules = out[i+1].EnergyBeforeJoules
		} else {
			out[i].EnergyAfterJoules = endEnergyJoules
		}

		if i == 0 {
			out[i].DurationSeconds = 0
		} else {
			out[i].DurationSeconds = out[i].Timestamp.Sub(out[i-1].Timestamp).Seconds()
		}

		consumed := out[i].EnergyAfterJoules - out[i].EnergyBeforeJoules
		if consumed < 0 {
			consumed = 0
		}
		out[i].EnergyConsumedJoules = consumed

		if out[i].DurationSeconds > 0 {
			out[i].PowerWatts = consumed / out[i].DurationSeconds
		}
	}

	return out
}

// aggregate fills Session's totals and per-function/per-type breakdowns
// from its already-correlated checkpoints (spec.md §4.7 step 6).
func aggregate(session *Session) {
	var totalEnergy, totalPower, peakPower float64
	var poweredSamples int

	for _, cp := range session.Checkpoints {
		totalEnergy += cp.EnergyConsumedJoules
		session.FunctionEnergyJoules[cp.Checkpoint.Name] += cp.EnergyConsumedJoules
		session.TypeEnergyJoules[cp.Checkpoint.Type] += cp.EnergyConsumedJoules

		if cp.DurationSeconds > 0 {
			totalPower += cp.PowerWatts
			poweredSamples++
			if cp.PowerWatts > peakPower {
				peakPower = cp.PowerWatts
			}
		}
	}

	session.TotalEnergyJoules = totalEnergy
	session.PeakPowerWatts = peakPower
	if poweredSamples > 0 {
		session.AveragePowerWatts = totalPower / float64(poweredSamples)
	}
}

// buildSourceLineMapping distributes each checkpoint's energy evenly
// across its SourceLinesCovered (falling back to its own Line), and
// accumulates per-line totals and execution counts (spec.md §4.7 step 7).
// The file's text is read on a best-effort basis to populate LineText;
// a missing or unreadable file leaves LineText empty.
func buildSourceLineMapping(session *Session, filePath string) {
	lines := readSourceLines(filePath)

	for _, cp := range session.Checkpoints {
		covered := cp.Checkpoint.SourceLinesCovered
		if len(covered) == 0 {
			covered = []int{cp.Checkpoint.Line}
		}

		share := cp.EnergyConsumedJoules / float64(len(covered))

		for _, line := range covered {
			entry, ok := session.LineEnergy[line]
			if !ok {
				text := ""
				if line > 0 && line <= len(lines) {
					text = lines[line-1]
				}
				entry = &SourceLineEnergy{Line: line, LineText: text}
				session.LineEnergy[line] = entry
			}
			entry.TotalJoules += share
			entry.ExecutionCount++
			entry.CheckpointIDs = append(entry.CheckpointIDs, cp.Checkpoint.ID)
		}
	}

	for _, entry := range session.LineEnergy {
		if entry.ExecutionCount > 0 {
			entry.AveragePerExecution = entry.TotalJoules / float64(entry.ExecutionCount)
		}
	}
}

func readSourceLines(filePath string) []string {
	if filePath == "" {
		return nil
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// detectHotspots flags functions using >20% of session energy, loop-type
// checkpoints using >30%, and an overall peak-to-average power ratio
// above 3x (spec.md §4.7 hotspot thresholds).
func detectHotspots(session *Session) {
	if session.TotalEnergyJoules <= 0 {
		return
	}

	for name, joules := range session.FunctionEnergyJoules {
		share := 100 * joules / session.TotalEnergyJoules
		if share > 20 {
			session.Hotspots = append(session.Hotspots, Hotspot{
				Kind:         "function",
				Subject:      name,
				SharePercent: share,
				Suggestion:   fmt.Sprintf("function %q consumes %.1f%% of session energy; consider optimizing or calling less frequently", name, share),
			})
		}
	}

	if loopJoules, ok := session.TypeEnergyJoules[LoopStart]; ok {
		share := 100 * loopJoules / session.TotalEnergyJoules
		if share > 30 {
			session.Hotspots = append(session.Hotspots, Hotspot{
				Kind:         "loop",
				Subject:      string(LoopStart),
				SharePercent: share,
				Suggestion:   fmt.Sprintf("loops consume %.1f%% of session energy; consider reducing iteration count or loop body cost", share),
			})
		}
	}

	if session.AveragePowerWatts > 0 && session.PeakPowerWatts/session.AveragePowerWatts > 3 {
		ratio := session.PeakPowerWatts / session.AveragePowerWatts
		session.Hotspots = append(session.Hotspots, Hotspot{
			Kind:         "peak_to_average",
			Subject:      session.SessionID,
			SharePercent: ratio * 100,
			Suggestion:   fmt.Sprintf("peak power is %.1fx average; investigate bursty checkpoints for smoothing opportunities", ratio),
		})
	}
}
