// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package frontend

import (
	"fmt"
	"sync"

	"github.com/codejoule/codejoule/internal/correlator"
)

// SessionRecorder is the subset of *correlator.Correlator the runtime
// hook depends on, narrowed for testability.
type SessionRecorder interface {
	RecordCheckpoint(sessionID string, checkpoint correlator.Checkpoint) error
}

// RuntimeHook is the runtime half of the instrumentation contract
// (spec.md §6: "at runtime, receives mark_checkpoint(id) calls in
// execution order"). It is constructed once analyze-time checkpoints are
// known, and the instrumented program calls MarkCheckpoint(id) as control
// reaches each one.
type RuntimeHook struct {
	recorder  SessionRecorder
	sessionID string

	mu          sync.Mutex
	checkpoints map[string]correlator.Checkpoint
}

var _ SessionRecorder = (*correlator.Correlator)(nil)

// NewRuntimeHook builds a hook for sessionID, indexing checkpoints by id.
func NewRuntimeHook(recorder SessionRecorder, sessionID string, checkpoints []correlator.Checkpoint) *RuntimeHook {
	index := make(map[string]correlator.Checkpoint, len(checkpoints))
	for _, c := range checkpoints {
		index[c.ID] = c
	}
	return &RuntimeHook{recorder: recorder, sessionID: sessionID, checkpoints: index}
}

// ErrUnknownCheckpoint is returned when MarkCheckpoint is called with an
// id that was not among the checkpoints generated at analyze time.
type ErrUnknownCheckpoint struct{ ID string }

func (e ErrUnknownCheckpoint) Error() string {
	return fmt.Sprintf("frontend: unknown checkpoint id %q", e.ID)
}

// MarkCheckpoint is the runtime entry point the instrumented program
// calls for each checkpoint it reaches, in execution order. id must name
// a Checkpoint supplied to NewRuntimeHook.
func (h *RuntimeHook) MarkCheckpoint(id string) error {
	h.mu.Lock()
	checkpoint, ok := h.checkpoints[id]
	h.mu.Unlock()

	if !ok {
		return ErrUnknownCheckpoint{ID: id}
	}

	return h.recorder.RecordCheckpoint(h.sessionID, checkpoint)
}
