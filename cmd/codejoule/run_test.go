// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codejoule/codejoule/internal/correlator"
	"github.com/codejoule/codejoule/internal/frontend"
)

func TestReportFromSession(t *testing.T) {
	start := time.Now()
	session := &correlator.Session{
		SessionID:         "sess-1",
		FilePath:          "prog.fk",
		Language:          "fake",
		StartTime:         start,
		EndTime:           start.Add(2 * time.Second),
		Checkpoints:       []correlator.TimedCheckpoint{{}, {}},
		TotalEnergyJoules: 4.0,
		AveragePowerWatts: 2.0,
		PeakPowerWatts:    3.0,
	}

	report := reportFromSession(session, true)

	assert.Equal(t, "sess-1", report.SessionID)
	assert.Equal(t, "prog.fk", report.FilePath)
	assert.Equal(t, "fake", report.Language)
	assert.True(t, report.Success)
	assert.InDelta(t, 4.0, report.TotalJoules, 1e-9)
	assert.InDelta(t, 2.0, report.AverageWatts, 1e-9)
	assert.InDelta(t, 3.0, report.PeakWatts, 1e-9)
	assert.InDelta(t, 2.0, report.DurationSeconds, 1e-9)
	assert.Equal(t, 2, report.CheckpointCount)
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	report := sessionReport{SessionID: "sess-1", Success: true, TotalJoules: 1.5}
	require.NoError(t, writeJSONReport(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded sessionReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report, decoded)
}

type recordingSession struct {
	recorded []correlator.Checkpoint
}

func (r *recordingSession) RecordCheckpoint(_ string, checkpoint correlator.Checkpoint) error {
	r.recorded = append(r.recorded, checkpoint)
	return nil
}

func TestCheckpointCallbackServer_ForwardsToHook(t *testing.T) {
	rec := &recordingSession{}
	hook := frontend.NewRuntimeHook(rec, "sess-1", []correlator.Checkpoint{
		{ID: "cp1", Type: correlator.FunctionEnter, Name: "main"},
	})

	server, err := startCheckpointCallbackServer(hook, testLogger())
	require.NoError(t, err)
	defer server.Close()

	resp, err := http.Post("http://"+server.Addr()+"/checkpoint/cp1", "application/octet-stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rec.recorded, 1)
	assert.Equal(t, "main", rec.recorded[0].Name)
}

func TestCheckpointCallbackServer_UnknownIDRejected(t *testing.T) {
	rec := &recordingSession{}
	hook := frontend.NewRuntimeHook(rec, "sess-1", nil)

	server, err := startCheckpointCallbackServer(hook, testLogger())
	require.NoError(t, err)
	defer server.Close()

	resp, err := http.Post("http://"+server.Addr()+"/checkpoint/bogus", "application/octet-stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, rec.recorded)
}
