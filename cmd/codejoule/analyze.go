// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/codejoule/codejoule/internal/frontend"
)

// analyzeOpts holds the parsed --analyze flags (spec.md §6).
type analyzeOpts struct {
	sourceFile        string
	saveInstrumented  bool
	outputDir         string
	verbose           bool
}

// analyze implements the analyze command: it asks the registered
// front-end adapter for checkpoints and instrumented source, and never
// executes the program (spec.md §1's instrumentation Non-goal; spec.md
// §6's "do not execute").
func analyze(registry *frontend.Registry, opts analyzeOpts, logger *slog.Logger) error {
	adapter, err := registry.ByFile(opts.sourceFile)
	if err != nil {
		return err
	}

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

	fmt.Printf("Language:              %s\n", adapter.LanguageID())
	fmt.Printf("Checkpoints generated: %d\n", len(checkpoints))

	if opts.verbose {
		for _, cp := range checkpoints {
			fmt.Printf("  %-20s %-20s line %d\n", cp.Type, cp.Name, cp.Line)
		}
	}

	if opts.saveInstrumented {
		dir := opts.outputDir
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir %s: %w", dir, err)
		}

		base := filepath.Base(opts.sourceFile)
		ext := filepath.Ext(base)
		instrumentedName := strings.TrimSuffix(base, ext) + ".instrumented" + ext
		outPath := filepath.Join(dir, instrumentedName)

		if err := os.WriteFile(outPath, []byte(instrumented), 0o644); err != nil {
			return fmt.Errorf("failed to write instrumented source to %s: %w", outPath, err)
		}
		fmt.Printf("Instrumented source:   %s\n", outPath)
	}

	return nil
}
