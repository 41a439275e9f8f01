// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists correlator.Session results to a local sqlite
// database (spec.md §6's "Persisted schema"). Writes are batched per
// session in a single transaction; every input-derived string is
// parameter-bound.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codejoule/codejoule/internal/correlator"
)

const schema = `
CREATE TABLE IF NOT EXISTS measurement_sessions (
	session_id       TEXT PRIMARY KEY,
	code_version     TEXT,
	file_path        TEXT,
	language         TEXT,
	start_time       INTEGER,
	end_time         INTEGER,
	total_joules     REAL,
	average_watts    REAL,
	peak_watts       REAL,
	checkpoint_count INTEGER,
	duration_seconds REAL,
	created_at       INTEGER
);

CREATE TABLE IF NOT EXISTS measurements (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL REFERENCES measurement_sessions(session_id),
	source          TEXT,
	joules          REAL,
	watts           REAL,
	temperature     REAL,
	timestamp       INTEGER,
	checkpoint_id   TEXT,
	checkpoint_type TEXT,
	function_name   TEXT,
	line_number     INTEGER,
	column_number   INTEGER,
	context         TEXT,
	duration_ms     REAL
);
CREATE INDEX IF NOT EXISTS idx_measurements_session ON measurements(session_id);

CREATE TABLE IF NOT EXISTS function_energy_stats (
	session_id   TEXT NOT NULL REFERENCES measurement_sessions(session_id),
	function_name TEXT,
	total_joules REAL,
	avg_joules   REAL,
	max_joules   REAL,
	min_joules   REAL,
	call_count   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_function_stats_session ON function_energy_stats(session_id);

CREATE TABLE IF NOT EXISTS energy_timeline (
	session_id         TEXT NOT NULL REFERENCES measurement_sessions(session_id),
	timestamp_bucket   INTEGER,
	avg_watts          REAL,
	max_watts          REAL,
	total_joules       REAL,
	measurement_count  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_timeline_session ON energy_timeline(session_id);
`

// Store is a sqlite-backed session store.
type Store struct {
	db *sql.DB
}

// Open creates or opens a sqlite database at path and ensures its schema
// exists. Callers must Close the returned Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession persists a finalized correlator.Session and its checkpoint
// measurements, per-function stats, and a one-second-bucketed power
// timeline, all inside a single transaction (spec.md §6: "writes are
// batched per session in a single transaction").
func (s *Store) SaveSession(session *correlator.Session, codeVersion string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertSession(tx, session, codeVersion); err != nil {
		return err
	}
	if err := insertMeasurements(tx, session); err != nil {
		return err
	}
	if err := insertFunctionStats(tx, session); err != nil {
		return err
	}
	if err := insertTimeline(tx, session); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

func insertSession(tx *sql.Tx, session *correlator.Session, codeVersion string) error {
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO measurement_sessions
			(session_id, code_version, file_path, language, start_time, end_time,
			 total_joules, average_watts, peak_watts, checkpoint_count, duration_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, codeVersion, session.FilePath, session.Language,
		session.StartTime.UnixNano(), session.EndTime.UnixNano(),
		session.TotalEnergyJoules, session.AveragePowerWatts, session.PeakPowerWatts,
		len(session.Checkpoints), session.EndTime.Sub(session.StartTime).Seconds(),
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

func insertMeasurements(tx *sql.Tx, session *correlator.Session) error {
	stmt, err := tx.Prepare(
		`INSERT INTO measurements
			(session_id, source, joules, watts, temperature, timestamp, checkpoint_id,
			 checkpoint_type, function_name, line_number, column_number, context, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("store: prepare measurement insert: %w", err)
	}
	defer stmt.Close()

	for _, cp := range session.Checkpoints {
		_, err := stmt.Exec(
			session.SessionID, "checkpoint", cp.EnergyConsumedJoules, cp.PowerWatts, nil,
			cp.Timestamp.UnixNano(), cp.Checkpoint.ID, string(cp.Checkpoint.Type),
			cp.Checkpoint.Name, cp.Checkpoint.Line, cp.Checkpoint.Column, cp.Checkpoint.Context,
			cp.DurationSeconds*1000,
		)
		if err != nil {
			return fmt.Errorf("store: insert measurement %s: %w", cp.Checkpoint.ID, err)
		}
	}
	return nil
}

func insertFunctionStats(tx *sql.Tx, session *correlator.Session) error {
	type acc struct {
		total, max, min float64
		count           int
	}
	stats := make(map[string]*acc)

	for _, cp := range session.Checkpoints {
		name := cp.Checkpoint.Name
		a, ok := stats[name]
		if !ok {
			a = &acc{min: cp.EnergyConsumedJoules, max: cp.EnergyConsumedJoules}
			stats[name] = a
		}
		a.total += cp.EnergyConsumedJoules
		a.count++
		if cp.EnergyConsumedJoules > a.max {
			a.max = cp.EnergyConsumedJoules
		}
		if cp.EnergyConsumedJoules < a.min {
			a.min = cp.EnergyConsumedJoules
		}
	}

	stmt, err := tx.Prepare(
		`INSERT INTO function_energy_stats
			(session_id, function_name, total_joules, avg_joules, max_joules, min_joules, call_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("store: prepare function stats insert: %w", err)
	}
	defer stmt.Close()

	for name, a := range stats {
		avg := a.total / float64(a.count)
		if _, err := stmt.Exec(session.SessionID, name, a.total, avg, a.max, a.min, a.count); err != nil {
			return fmt.Errorf("store: insert function stats %s: %w", name, err)
		}
	}
	return nil
}

// insertTimeline buckets checkpoint power readings into one-second
// windows for a coarse time-series view (spec.md §6 energy_timeline).
func insertTimeline(tx *sql.Tx, session *correlator.Session) error {
	type bucket struct {
		avgSum, max, total float64
		count              int
	}
	buckets := make(map[int64]*bucket)

	for _, cp := range session.Checkpoints {
		key := cp.Timestamp.Unix()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		b.avgSum += cp.PowerWatts
		b.total += cp.EnergyConsumedJoules
		b.count++
		if cp.PowerWatts > b.max {
			b.max = cp.PowerWatts
		}
	}

	stmt, err := tx.Prepare(
		`INSERT INTO energy_timeline
			(session_id, timestamp_bucket, avg_watts, max_watts, total_joules, measurement_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("store: prepare timeline insert: %w", err)
	}
	defer stmt.Close()

	for ts, b := range buckets {
		avg := b.avgSum / float64(b.count)
		if _, err := stmt.Exec(session.SessionID, ts, avg, b.max, b.total, b.count); err != nil {
			return fmt.Errorf("store: insert timeline bucket %d: %w", ts, err)
		}
	}
	return nil
}
