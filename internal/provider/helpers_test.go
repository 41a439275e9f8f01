// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"io"
	"log/slog"

	"github.com/codejoule/codejoule/internal/counter"
	"github.com/codejoule/codejoule/internal/timing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTimer() *timing.Timer {
	return timing.New()
}

func newTestCounterManager() *counter.Manager {
	return counter.NewManager()
}
