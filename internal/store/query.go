// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"time"
)

// SessionSummary is a lightweight projection of measurement_sessions for
// listing, without reloading every checkpoint measurement.
type SessionSummary struct {
	SessionID       string
	FilePath        string
	Language        string
	StartTime       time.Time
	EndTime         time.Time
	TotalJoules     float64
	AverageWatts    float64
	PeakWatts       float64
	CheckpointCount int
	DurationSeconds float64
}

// GetSession loads one session's summary row by id.
func (s *Store) GetSession(sessionID string) (*SessionSummary, error) {
	row := s.db.QueryRow(
		`SELECT session_id, file_path, language, start_time, end_time,
			total_joules, average_watts, peak_watts, checkpoint_count, duration_seconds
		 FROM measurement_sessions WHERE session_id = ?`,
		sessionID,
	)

	var sum SessionSummary
	var startNS, endNS int64
	err := row.Scan(
		&sum.SessionID, &sum.FilePath, &sum.Language, &startNS, &endNS,
		&sum.TotalJoules, &sum.AverageWatts, &sum.PeakWatts, &sum.CheckpointCount, &sum.DurationSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get session %s: %w", sessionID, err)
	}

	sum.StartTime = time.Unix(0, startNS)
	sum.EndTime = time.Unix(0, endNS)
	return &sum, nil
}

// ListSessions returns every stored session's summary, most recent first.
func (s *Store) ListSessions() ([]SessionSummary, error) {
	rows, err := s.db.Query(
		`SELECT session_id, file_path, language, start_time, end_time,
			total_joules, average_watts, peak_watts, checkpoint_count, duration_seconds
		 FROM measurement_sessions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var startNS, endNS int64
		if err := rows.Scan(
			&sum.SessionID, &sum.FilePath, &sum.Language, &startNS, &endNS,
			&sum.TotalJoules, &sum.AverageWatts, &sum.PeakWatts, &sum.CheckpointCount, &sum.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		sum.StartTime = time.Unix(0, startNS)
		sum.EndTime = time.Unix(0, endNS)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate sessions: %w", err)
	}

	return out, nil
}

// FunctionStat is one row of function_energy_stats.
type FunctionStat struct {
	FunctionName string
	TotalJoules  float64
	AvgJoules    float64
	MaxJoules    float64
	MinJoules    float64
	CallCount    int
}

// GetFunctionStats returns the per-function energy breakdown for a session.
func (s *Store) GetFunctionStats(sessionID string) ([]FunctionStat, error) {
	rows, err := s.db.Query(
		`SELECT function_name, total_joules, avg_joules, max_joules, min_joules, call_count
		 FROM function_energy_stats WHERE session_id = ? ORDER BY total_joules DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get function stats for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []FunctionStat
	for rows.Next() {
		var fs FunctionStat
		if err := rows.Scan(&fs.FunctionName, &fs.TotalJoules, &fs.AvgJoules, &fs.MaxJoules, &fs.MinJoules, &fs.CallCount); err != nil {
			return nil, fmt.Errorf("store: scan function stat row: %w", err)
		}
		out = append(out, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate function stats: %w", err)
	}

	return out, nil
}
