// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package validator implements the Accuracy Validator (spec.md §4.8): six
// independent scored tests covering basic functionality, precision,
// temporal stability, load responsiveness, cross-validation, and
// measurement overhead, combined into a weighted overall score.
package validator

import (
	"fmt"
	"strings"
	"time"
)

// Config tunes the validator's pass/fail thresholds (spec.md §4.8).
type Config struct {
	PrecisionTestSamples      int
	MaxCoefficientOfVariation float64

	StabilityTestDuration time.Duration
	MaxTemporalVariation  float64

	MinCrossValidationScore float64

	MaxAcceptableOverheadPercent float64

	TargetUncertaintyPercent float64
	MinAcceptableScore       float64
}

// DefaultConfig matches the reference validation_config defaults.
func DefaultConfig() Config {
	return Config{
		PrecisionTestSamples:         50,
		MaxCoefficientOfVariation:    0.05,
		StabilityTestDuration:        10 * time.Second,
		MaxTemporalVariation:         0.03,
		MinCrossValidationScore:      0.85,
		MaxAcceptableOverheadPercent: 1.0,
		TargetUncertaintyPercent:     1.0,
		MinAcceptableScore:           0.70,
	}
}

// testWeights assigns each named test its contribution to the overall
// score (spec.md §4.8: 0.30/0.20/0.15/0.15/0.10/0.10). A test name absent
// from this table (there should be none) falls back to 0.1.
var testWeights = map[string]float64{
	"basic_functionality":  0.30,
	"measurement_precision": 0.20,
	"temporal_stability":   0.15,
	"load_responsiveness":  0.15,
	"cross_validation":     0.10,
	"measurement_overhead": 0.10,
}

const defaultTestWeight = 0.1

// Test is the outcome of one validation test.
type Test struct {
	Name               string
	Description        string
	Passed             bool
	Score              float64 // 0.0 to 1.0
	UncertaintyPercent float64
	Details            string
}

// Result is the outcome of a full validation run.
type Result struct {
	Timestamp    time.Time
	Passed       bool
	OverallScore float64
	ErrorMessage string

	Tests           []Test
	Recommendations []string
}

// Report renders a human-readable summary, matching the structure of
// ValidationResult::generate_report in the reference implementation.
func (r Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n=== Energy Measurement Accuracy Validation Report ===\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", r.Timestamp.UTC().Format(time.RFC3339))
	status := "FAILED"
	if r.Passed {
		status = "PASSED"
	}
	fmt.Fprintf(&b, "Overall Result: %s\n", status)
	fmt.Fprintf(&b, "Overall Score: %.2f%%\n\n", r.OverallScore*100)

	if r.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n\n", r.ErrorMessage)
	}

	fmt.Fprintf(&b, "=== Individual Test Results ===\n")
	for _, t := range r.Tests {
		testStatus := "FAILED"
		if t.Passed {
			testStatus = "PASSED"
		}
		fmt.Fprintf(&b, "\n%s:\n", t.Name)
		fmt.Fprintf(&b, "  Description: %s\n", t.Description)
		fmt.Fprintf(&b, "  Result: %s\n", testStatus)
		fmt.Fprintf(&b, "  Score: %.2f%%\n", t.Score*100)
		if t.UncertaintyPercent > 0 {
			fmt.Fprintf(&b, "  Uncertainty: %.2f%%\n", t.UncertaintyPercent)
		}
		if t.Details != "" {
			fmt.Fprintf(&b, "  Details: %s\n", t.Details)
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(&b, "\n=== Recommendations ===\n")
		for i, rec := range r.Recommendations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
		}
	}

	fmt.Fprintf(&b, "\n=== End Report ===\n")
	return b.String()
}
