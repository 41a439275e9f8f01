// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/codejoule/codejoule/internal/correlator"
	"github.com/codejoule/codejoule/internal/frontend"
	"github.com/codejoule/codejoule/internal/store"
)

// sessionReport is the JSON session output object (spec.md §6: "One
// object with session_id, file_path, language, success, total_joules,
// average_watts, peak_watts, duration_seconds, checkpoint_count").
type sessionReport struct {
	SessionID        string  `json:"session_id"`
	FilePath         string  `json:"file_path"`
	Language         string  `json:"language"`
	Success          bool    `json:"success"`
	TotalJoules      float64 `json:"total_joules"`
	AverageWatts     float64 `json:"average_watts"`
	PeakWatts        float64 `json:"peak_watts"`
	DurationSeconds  float64 `json:"duration_seconds"`
	CheckpointCount  int     `json:"checkpoint_count"`
}

func reportFromSession(session *correlator.Session, success bool) sessionReport {
	return sessionReport{
		SessionID:       session.SessionID,
		FilePath:        session.FilePath,
		Language:        session.Language,
		Success:         success,
		TotalJoules:     session.TotalEnergyJoules,
		AverageWatts:    session.AveragePowerWatts,
		PeakWatts:       session.PeakPowerWatts,
		DurationSeconds: session.EndTime.Sub(session.StartTime).Seconds(),
		CheckpointCount: len(session.Checkpoints),
	}
}

// checkpointCallbackServer exposes hook.MarkCheckpoint over HTTP on
// loopback so an instrumented child process, regardless of language, can
// report checkpoints via "POST /checkpoint/<id>" (spec.md §6's "at
// runtime, receives mark_checkpoint(id) calls in execution order" for an
// out-of-process front-end).
type checkpointCallbackServer struct {
	listener net.Listener
	server   *http.Server
}

func startCheckpointCallbackServer(hook *frontend.RuntimeHook, logger *slog.Logger) (*checkpointCallbackServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start checkpoint callback server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/checkpoint/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/checkpoint/")
		if err := hook.MarkCheckpoint(id); err != nil {
			logger.Warn("rejected checkpoint callback", "id", id, "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(listener) }()

	return &checkpointCallbackServer{listener: listener, server: srv}, nil
}

func (c *checkpointCallbackServer) Addr() string {
	return c.listener.Addr().String()
}

func (c *checkpointCallbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}

// runOpts holds the parsed `<language> <source-file> [args...]` flags.
type runOpts struct {
	sourceFile string
	args       []string
	jsonOutput string
}

// runLanguageSession implements the `<language> <source-file> [args...]`
// command (spec.md §6): instrument, execute out-of-process, collect the
// correlated session, persist it, and print totals.
func runLanguageSession(ctx context.Context, adapter frontend.Adapter, corr *correlator.Correlator, st *store.Store, opts runOpts, logger *slog.Logger) error {
	source, err := os.ReadFile(opts.sourceFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.sourceFile, err)
	}

	checkpoints, err := adapter.GenerateCheckpoints(string(source))
	if err != nil {
		return fmt.Errorf("failed to generate checkpoints: %w", err)
	}

	instrumented, err := adapter.InstrumentCode(string(source), checkpoints)
	if err != nil {
		return fmt.Errorf("failed to instrument code: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "codejoule-run-*")
	if err != nil {
		return fmt.Errorf("failed to create working dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	instrumentedPath := filepath.Join(tmpDir, filepath.Base(opts.sourceFile))
	if err := os.WriteFile(instrumentedPath, []byte(instrumented), 0o644); err != nil {
		return fmt.Errorf("failed to write instrumented source: %w", err)
	}

	sessionID := corr.StartSession(opts.sourceFile, adapter.LanguageID())
	hook := frontend.NewRuntimeHook(corr, sessionID, checkpoints)

	callback, err := startCheckpointCallbackServer(hook, logger)
	if err != nil {
		return err
	}
	defer callback.Close()

	cmd := exec.CommandContext(ctx, adapter.LanguageID(), append([]string{instrumentedPath}, opts.args...)...)
	cmd.Env = append(os.Environ(), "CODEJOULE_CALLBACK_ADDR="+callback.Addr())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	runErr := cmd.Run()

	session, err := corr.EndSession(sessionID)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	codeVersion := fmt.Sprintf("%x", sha1.Sum(source))
	if err := st.SaveSession(session, codeVersion); err != nil {
		logger.Error("failed to persist session", "session", sessionID, "error", err)
	}

	report := reportFromSession(session, runErr == nil)
	printSessionReport(report)

	if opts.jsonOutput != "" {
		if err := writeJSONReport(opts.jsonOutput, report); err != nil {
			logger.Error("failed to write JSON session output", "path", opts.jsonOutput, "error", err)
		}
	}

	return runErr
}

func printSessionReport(r sessionReport) {
	fmt.Printf("Session:         %s\n", r.SessionID)
	fmt.Printf("Success:         %v\n", r.Success)
	fmt.Printf("Total energy:    %.4f J\n", r.TotalJoules)
	fmt.Printf("Average power:   %.4f W\n", r.AverageWatts)
	fmt.Printf("Peak power:      %.4f W\n", r.PeakWatts)
	fmt.Printf("Duration:        %.4f s\n", r.DurationSeconds)
	fmt.Printf("Checkpoints:     %d\n", r.CheckpointCount)
}

func writeJSONReport(path string, r sessionReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
