// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/codejoule/codejoule/internal/config"
	"github.com/codejoule/codejoule/internal/coordinator"
	"github.com/codejoule/codejoule/internal/meter"
	"github.com/codejoule/codejoule/internal/provider"
)

// ErrUnknownWorkload is returned by measureWorkload for a --workload value
// outside spec.md §6's {cpu_stress, memory_stress} enumeration.
type ErrUnknownWorkload struct{ Name string }

func (e ErrUnknownWorkload) Error() string {
	return fmt.Sprintf("unknown workload: %s", e.Name)
}

// cpuStress burns CPU cycles on trigonometric arithmetic for duration, the
// same shape of busy-loop the original measurement harness used to give
// RAPL package domains a visible load.
func cpuStress(duration time.Duration) {
	deadline := time.Now().Add(duration)
	x := 0.0
	for time.Now().Before(deadline) {
		for i := 0; i < 50_000; i++ {
			x += math.Sqrt(float64(i) * 3.14159)
			x = math.Sin(x) * math.Cos(x)
		}
	}
	_ = x
}

// memoryStress repeatedly allocates and scans a large slice for duration,
// exercising memory bandwidth rather than ALU throughput.
func memoryStress(duration time.Duration) {
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		data := make([]float64, 1_000_000)
		for i := range data {
			data[i] = math.Sqrt(float64(i))
		}
		sum := 0.0
		for i := 0; i < len(data); i += 1000 {
			sum += data[i]
		}
		_ = sum
	}
}

func workloadFunc(name string, duration time.Duration) (func() error, error) {
	switch name {
	case "cpu_stress":
		return func() error { cpuStress(duration); return nil }, nil
	case "memory_stress":
		return func() error { memoryStress(duration); return nil }, nil
	default:
		return nil, ErrUnknownWorkload{Name: name}
	}
}

// newMeasurementCoordinator builds a Coordinator over every provider that
// initializes on this host, configured from cfg's accuracy/coordinator
// options. Callers own the returned providers and must Shutdown them.
func newMeasurementCoordinator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*coordinator.Coordinator, []provider.Provider, error) {
	candidates := buildProviders(ctx, cfg, logger)

	var available []provider.Provider
	for _, p := range candidates {
		if p.Initialize() {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		return nil, nil, fmt.Errorf("no energy provider available on this host")
	}

	coord := coordinator.New(
		coordinator.WithLogger(logger),
		coordinator.WithInterval(cfg.MeasurementInterval()),
		coordinator.WithRestartInterval(cfg.ProviderRestartInterval()),
		coordinator.WithBufferSize(cfg.Coordinator.MeasurementBufferSize),
		coordinator.WithCrossValidation(cfg.Accuracy.MeasurementValidation, cfg.Coordinator.CrossValidationThreshold),
		coordinator.WithNoiseFiltering(coordinator.NoiseFiltering(cfg.Accuracy.NoiseFiltering)),
		coordinator.WithOutlierDetection(cfg.Accuracy.OutlierDetection),
	)

	for _, p := range available {
		if err := coord.AddProvider(p); err != nil {
			return nil, nil, err
		}
	}

	return coord, available, nil
}

// measureWorkload implements the measure-workload command (spec.md §6):
// it samples the coordinator across a synthetic workload and prints the
// resulting EnergyDifference.
func measureWorkload(ctx context.Context, cfg *config.Config, logger *slog.Logger, duration time.Duration, workloadName string) error {
	run, err := workloadFunc(workloadName, duration)
	if err != nil {
		return err
	}

	coord, providers, err := newMeasurementCoordinator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range providers {
			p.Shutdown()
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- coord.Run(runCtx) }()

	// Let the sampler take its first reading before measuring a baseline.
	time.Sleep(2 * cfg.MeasurementInterval())

	m := meter.New(coord, logger)
	diff, measureErr := m.Measure(run)

	cancel()
	<-errCh

	printMeasurement(diff)
	return measureErr
}

func printMeasurement(diff meter.EnergyDifference) {
	fmt.Printf("Energy consumed: %.4f J\n", diff.EnergyJoules)
	fmt.Printf("Average power:   %.4f W\n", diff.AveragePowerWatts)
	fmt.Printf("Duration:        %.4f s\n", diff.DurationSeconds)
	fmt.Printf("Valid:           %v\n", diff.Valid)
	fmt.Printf("Uncertainty:     %.2f%%\n", diff.UncertaintyPercent)
}
