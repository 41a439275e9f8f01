// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package frontend defines the narrow contract between the core and an
// external instrumentation front-end (spec.md §1/§6): the front-end
// parses source and emits Checkpoint records plus instrumented code; the
// core never parses or rewrites source itself. At runtime, the
// instrumented program calls back into RuntimeHook.MarkCheckpoint(id) in
// execution order.
package frontend

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codejoule/codejoule/internal/correlator"
)

// Adapter is implemented by one external instrumentation front-end per
// supported target language. Parsing and rewriting source are the
// adapter's responsibility, not the core's (spec.md §1's Non-goal:
// "source parsing and AST-level checkpoint generation").
type Adapter interface {
	LanguageID() string
	FileExtensions() []string

	// GenerateCheckpoints returns every Checkpoint the front-end will
	// mark at runtime for sourceCode, in no particular order.
	GenerateCheckpoints(sourceCode string) ([]correlator.Checkpoint, error)

	// InstrumentCode returns sourceCode rewritten to call
	// mark_checkpoint(id) at each of checkpoints, in execution order.
	InstrumentCode(sourceCode string, checkpoints []correlator.Checkpoint) (string, error)
}

// Registry looks up an Adapter by language id or source file extension.
type Registry struct {
	byLanguage map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{byLanguage: make(map[string]Adapter)}
}

// Register adds adapter, keyed by its LanguageID. A later registration
// under the same language id replaces the earlier one.
func (r *Registry) Register(adapter Adapter) {
	r.byLanguage[adapter.LanguageID()] = adapter
}

// ErrNoAdapter is returned when no registered Adapter matches a lookup.
type ErrNoAdapter struct{ Query string }

func (e ErrNoAdapter) Error() string {
	return fmt.Sprintf("frontend: no adapter for %q", e.Query)
}

// ByLanguage returns the adapter registered for languageID.
func (r *Registry) ByLanguage(languageID string) (Adapter, error) {
	a, ok := r.byLanguage[languageID]
	if !ok {
		return nil, ErrNoAdapter{Query: languageID}
	}
	return a, nil
}

// ByFile returns the adapter whose FileExtensions include path's
// extension.
func (r *Registry) ByFile(path string) (Adapter, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, adapter := range r.byLanguage {
		for _, candidate := range adapter.FileExtensions() {
			if strings.ToLower(candidate) == ext {
				return adapter, nil
			}
		}
	}
	return nil, ErrNoAdapter{Query: path}
}

// Languages returns the language ids of every registered Adapter, sorted,
// for enumerating them as CLI subcommands.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}
