// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codejoule/codejoule/internal/coordinator"
	"github.com/codejoule/codejoule/internal/provider"
	"github.com/codejoule/codejoule/internal/store"
)

type fakeSource struct {
	reading coordinator.SynchronizedReading
}

func (f *fakeSource) GetSynchronizedReading() coordinator.SynchronizedReading { return f.reading }

type fakeSessions struct {
	sessions []store.SessionSummary
	stats    []store.FunctionStat
}

func (f *fakeSessions) ListSessions() ([]store.SessionSummary, error) { return f.sessions, nil }
func (f *fakeSessions) GetFunctionStats(string) ([]store.FunctionStat, error) {
	return f.stats, nil
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name          string
		expectService string
		opts          []OptionFn
		out           io.WriteCloser
		interval      time.Duration
	}{{
		name:          "default options",
		expectService: "stdout",
		opts:          []OptionFn{},
		out:           os.Stdout,
		interval:      2 * time.Second,
	}, {
		name:          "custom options",
		expectService: "stdout",
		opts: []OptionFn{
			WithLogger(slog.Default()),
			WithOutput(os.Stderr),
			WithInterval(20 * time.Second),
		},
		out:      os.Stderr,
		interval: 20 * time.Second,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			exporter := NewExporter(src, tt.opts...)
			assert.NotNil(t, exporter)
			assert.Equal(t, tt.expectService, exporter.Name())
			assert.NotNil(t, exporter.logger)
			assert.Same(t, src, exporter.source)
			assert.Same(t, tt.out, exporter.out)
			assert.Equal(t, tt.interval, exporter.interval)
		})
	}
}

type dummyTarget struct {
	io.Writer
}

func (dwc *dummyTarget) Close() error {
	return nil
}

func TestExporter_InitRunShutdown(t *testing.T) {
	src := &fakeSource{reading: testReading()}
	out := &dummyTarget{&bytes.Buffer{}}
	exporter := NewExporter(src, WithOutput(out), WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	require.NoError(t, exporter.Init(ctx))

	err := exporter.Run(ctx)
	assert.NoError(t, err)
	assert.NoError(t, exporter.Shutdown())
}

func Test_writeReading(t *testing.T) {
	buf := bytes.Buffer{}
	writeReading(&buf, time.Now(), testReading())

	out := buf.String()
	assert.Contains(t, out, "rapl-powercap")
	assert.Contains(t, out, "12.00W")
}

func Test_writeLatestSession(t *testing.T) {
	buf := bytes.Buffer{}
	sessions := &fakeSessions{
		sessions: []store.SessionSummary{{SessionID: "s1"}},
		stats:    []store.FunctionStat{{FunctionName: "compute", TotalJoules: 5, AvgJoules: 1.25}},
	}
	writeLatestSession(&buf, sessions, slog.Default())

	out := buf.String()
	assert.Contains(t, out, "compute")
	assert.Contains(t, out, "s1")
}

func Test_writeLatestSession_NoSessions(t *testing.T) {
	buf := bytes.Buffer{}
	writeLatestSession(&buf, &fakeSessions{}, slog.Default())
	assert.Empty(t, buf.String())
}

func testReading() coordinator.SynchronizedReading {
	return coordinator.SynchronizedReading{
		Readings: []provider.EnergyReading{
			{ProviderID: "rapl-powercap", AveragePowerWatts: 12, EnergyJoules: 123},
		},
	}
}
