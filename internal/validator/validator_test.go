// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package validator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codejoule/codejoule/internal/meter"
	"github.com/codejoule/codejoule/internal/provider"
)

type fakeSource struct {
	mu sync.Mutex

	joules     float64
	powerWatts float64
	providers  []provider.EnergyReading
	valid      bool

	measureFn func(workload func() error) (meter.EnergyDifference, error)
}

func (f *fakeSource) Read() meter.EnergyResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joules += 0.001 // strictly non-decreasing across reads
	return meter.EnergyResult{
		TotalJoules:     f.joules,
		TotalPowerWatts: f.powerWatts,
		Providers:       f.providers,
		Valid:           f.valid,
	}
}

func (f *fakeSource) Measure(workload func() error) (meter.EnergyDifference, error) {
	if f.measureFn != nil {
		return f.measureFn(workload)
	}
	err := workload()
	return meter.EnergyDifference{Valid: err == nil, AveragePowerWatts: f.powerWatts}, err
}

func TestBasicFunctionality_PassesOnValidProgression(t *testing.T) {
	src := &fakeSource{powerWatts: 10, valid: true}
	v := New(src, nil)

	test := v.testBasicFunctionality(context.Background())
	assert.True(t, test.Passed)
	assert.Equal(t, 1.0, test.Score)
}

func TestBasicFunctionality_FailsWhenInvalid(t *testing.T) {
	src := &fakeSource{powerWatts: 10, valid: false}
	v := New(src, nil)

	test := v.testBasicFunctionality(context.Background())
	assert.False(t, test.Passed)
	assert.Equal(t, 0.0, test.Score)
}

func TestMeasurementPrecision_TightVarianceScoresHigh(t *testing.T) {
	src := &fakeSource{powerWatts: 100, valid: true}
	v := New(src, nil, WithConfig(Config{
		PrecisionTestSamples:      10,
		MaxCoefficientOfVariation: 0.05,
	}))

	test := v.testMeasurementPrecision(context.Background())
	assert.True(t, test.Passed)
	assert.Greater(t, test.Score, 0.9)
}

func TestTemporalStability_InsufficientSamplesFails(t *testing.T) {
	src := &fakeSource{powerWatts: 10, valid: true}
	v := New(src, nil, WithConfig(Config{StabilityTestDuration: time.Millisecond}))

	test := v.testTemporalStability(context.Background())
	assert.False(t, test.Passed)
	assert.Contains(t, test.Details, "insufficient")
}

func TestLoadResponsiveness_NoIncreaseFails(t *testing.T) {
	src := &fakeSource{powerWatts: 10, valid: true}
	src.measureFn = func(workload func() error) (meter.EnergyDifference, error) {
		err := workload()
		return meter.EnergyDifference{Valid: true, AveragePowerWatts: 10}, err
	}
	v := New(src, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	test := v.testLoadResponsiveness(ctx)
	assert.False(t, test.Passed)
}

func TestCrossValidation_SingleProviderNotApplicable(t *testing.T) {
	src := &fakeSource{valid: true, providers: []provider.EnergyReading{{ProviderID: "only"}}}
	v := New(src, nil)

	test := v.testCrossValidation(context.Background())
	assert.True(t, test.Passed)
	assert.Equal(t, 1.0, test.Score)
}

func TestCrossValidation_ConsistentProvidersPass(t *testing.T) {
	src := &fakeSource{
		valid: true,
		providers: []provider.EnergyReading{
			{ProviderID: "a", AveragePowerWatts: 10},
			{ProviderID: "b", AveragePowerWatts: 10.1},
		},
	}
	v := New(src, nil)

	test := v.testCrossValidation(context.Background())
	assert.True(t, test.Passed)
}

func TestMeasureMeasurementOverhead_Runs(t *testing.T) {
	src := &fakeSource{powerWatts: 10, valid: true}
	v := New(src, nil)

	test := v.measureMeasurementOverhead(context.Background())
	assert.Equal(t, "measurement_overhead", test.Name)
	assert.NotEmpty(t, test.Details)
}

func TestCalculateOverallScore_WeightsByTestName(t *testing.T) {
	tests := []Test{
		{Name: "basic_functionality", Score: 1.0},
		{Name: "measurement_precision", Score: 0.0},
		{Name: "temporal_stability", Score: 1.0},
		{Name: "load_responsiveness", Score: 1.0},
		{Name: "cross_validation", Score: 1.0},
		{Name: "measurement_overhead", Score: 1.0},
	}

	score := calculateOverallScore(tests)
	assert.InDelta(t, 1.0-0.20, score, 1e-9)
}

func TestGenerateRecommendations_EmptyWhenAllPass(t *testing.T) {
	src := &fakeSource{valid: true}
	v := New(src, nil)

	tests := []Test{{Name: "basic_functionality", Passed: true, Score: 1.0}}
	recs := v.generateRecommendations(tests)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "passed")
}

func TestRunIndividualTest_UnknownName(t *testing.T) {
	src := &fakeSource{valid: true}
	v := New(src, nil)

	test := v.RunIndividualTest(context.Background(), "not_a_real_test")
	assert.False(t, test.Passed)
	assert.Contains(t, test.Details, "not recognized")
}

func TestResult_Report_ContainsPassStatus(t *testing.T) {
	r := Result{
		Timestamp:    time.Now(),
		Passed:       true,
		OverallScore: 0.9,
		Tests:        []Test{{Name: "basic_functionality", Passed: true, Score: 1.0}},
	}

	report := r.Report()
	assert.Contains(t, report, "PASSED")
	assert.Contains(t, report, "basic_functionality")
}
