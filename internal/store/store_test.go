// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codejoule/codejoule/internal/correlator"
)

func testSession() *correlator.Session {
	start := time.Now().Add(-time.Second)
	end := time.Now()
	return &correlator.Session{
		SessionID:         "sess-1",
		FilePath:          "example.py",
		Language:          "python",
		StartTime:         start,
		EndTime:           end,
		TotalEnergyJoules: 10,
		AveragePowerWatts: 5,
		PeakPowerWatts:    8,
		Checkpoints: []correlator.TimedCheckpoint{
			{
				Checkpoint:           correlator.Checkpoint{ID: "a", Type: correlator.FunctionEnter, Name: "foo", Line: 1},
				Timestamp:            start,
				EnergyConsumedJoules: 4,
				PowerWatts:           4,
				DurationSeconds:      1,
			},
			{
				Checkpoint:           correlator.Checkpoint{ID: "b", Type: correlator.FunctionExit, Name: "foo", Line: 2},
				Timestamp:            end,
				EnergyConsumedJoules: 6,
				PowerWatts:           6,
				DurationSeconds:      1,
			},
		},
	}
}

func TestStore_SaveAndGetSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveSession(testSession(), "v1.0.0"))

	summary, err := s.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "example.py", summary.FilePath)
	assert.Equal(t, "python", summary.Language)
	assert.Equal(t, 10.0, summary.TotalJoules)
	assert.Equal(t, 2, summary.CheckpointCount)
}

func TestStore_SaveSession_ReplacesOnDuplicateID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	session := testSession()
	require.NoError(t, s.SaveSession(session, "v1"))

	session.TotalEnergyJoules = 99
	require.NoError(t, s.SaveSession(session, "v1"))

	summary, err := s.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 99.0, summary.TotalJoules)
}

func TestStore_ListSessions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveSession(testSession(), "v1"))

	sessions, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].SessionID)
}

func TestStore_GetFunctionStats(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveSession(testSession(), "v1"))

	stats, err := s.GetFunctionStats("sess-1")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "foo", stats[0].FunctionName)
	assert.Equal(t, 10.0, stats[0].TotalJoules)
	assert.Equal(t, 2, stats[0].CallCount)
}

func TestStore_GetSession_UnknownIDErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetSession("does-not-exist")
	assert.Error(t, err)
}
