/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config implements the core's JSON configuration file (spec.md
// §6). Load/FromFile overlay the file onto the defaults; the updater
// returned by RegisterFlags then applies a --preset (overwriting the same
// fields the file may have set) and finally the explicitly-set log flags.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
)

// Config is the complete application configuration.
type (
	Log struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	}

	// Accuracy holds spec.md §6's accuracy.* options.
	Accuracy struct {
		TargetUncertaintyPercent float64 `json:"target_uncertainty_percent"`
		MeasurementValidation    bool    `json:"measurement_validation"`
		OutlierDetection         bool    `json:"outlier_detection"`
		NoiseFiltering           string  `json:"noise_filtering"` // none, basic, adaptive
	}

	// Timing holds spec.md §6's timing.* options.
	Timing struct {
		ClockSource string `json:"clock_source"` // auto, tsc, monotonic_raw, monotonic, realtime
	}

	// Coordinator holds spec.md §6's coordinator.* options.
	Coordinator struct {
		MeasurementIntervalMS      int64   `json:"measurement_interval_ms"`
		CrossValidationThreshold   float64 `json:"cross_validation_threshold"`
		MeasurementBufferSize      int     `json:"measurement_buffer_size"`
		AutoRestartFailedProviders bool    `json:"auto_restart_failed_providers"`
		ProviderRestartIntervalS   int64   `json:"provider_restart_interval_s"`
	}

	// ProviderConfig holds spec.md §6's providers.<name>.* options.
	ProviderConfig struct {
		Enabled      bool   `json:"enabled"`
		AccessMethod string `json:"access_method"` // auto, msr, sysfs
	}

	Config struct {
		Log         Log                       `json:"log"`
		Accuracy    Accuracy                  `json:"accuracy"`
		Timing      Timing                    `json:"timing"`
		Coordinator Coordinator               `json:"coordinator"`
		Providers   map[string]ProviderConfig `json:"providers"`
	}
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"
	PresetFlag    = "preset"
)

// DefaultConfig returns the built-in defaults (spec.md §4/§5's "default"
// column), before any preset, file, or flag overlay.
func DefaultConfig() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Accuracy: Accuracy{
			TargetUncertaintyPercent: 5.0,
			MeasurementValidation:    true,
			OutlierDetection:         true,
			NoiseFiltering:           "basic",
		},
		Timing: Timing{
			ClockSource: "auto",
		},
		Coordinator: Coordinator{
			MeasurementIntervalMS:      10,
			CrossValidationThreshold:   0.05,
			MeasurementBufferSize:      1000,
			AutoRestartFailedProviders: true,
			ProviderRestartIntervalS:   30,
		},
		Providers: map[string]ProviderConfig{},
	}
}

// Preset is a named bundle of accuracy-sensitive overrides (spec.md §6:
// "Two built-in presets -- 'accuracy' and 'performance' -- with the
// values from §4 and §5").
type Preset string

const (
	PresetAccuracy    Preset = "accuracy"
	PresetPerformance Preset = "performance"
)

// ApplyPreset overlays preset's values onto c. "performance" reapplies
// DefaultConfig's own low-overhead values (the spec's "default" column
// doubles as the performance preset); "accuracy" applies §4/§5's
// accuracy-mode column.
func (c *Config) ApplyPreset(preset Preset) error {
	switch preset {
	case PresetPerformance:
		d := DefaultConfig()
		c.Coordinator = d.Coordinator
		c.Accuracy.TargetUncertaintyPercent = d.Accuracy.TargetUncertaintyPercent
	case PresetAccuracy:
		c.Coordinator.MeasurementIntervalMS = 1
		c.Coordinator.CrossValidationThreshold = 0.02
		c.Coordinator.MeasurementBufferSize = 100_000
		c.Coordinator.ProviderRestartIntervalS = 10
		c.Accuracy.TargetUncertaintyPercent = 1.0
	case "":
		// no preset requested
	default:
		return fmt.Errorf("invalid preset: %s", preset)
	}
	return nil
}

// Load parses JSON configuration from r, starting from DefaultConfig and
// overlaying r's contents (spec.md §6's "Configuration file (JSON)").
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file.
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app and returns
// a ConfigUpdaterFn that overlays only explicitly-set flags onto a
// Config. An explicit --preset is applied first, on top of whatever the
// Config already holds (including file-loaded values), followed by the
// log flags.
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	preset := app.Flag(PresetFlag, "Configuration preset: accuracy or performance").Default("").Enum("", "accuracy", "performance")

	return func(cfg *Config) error {
		if flagsSet[PresetFlag] {
			if err := cfg.ApplyPreset(Preset(*preset)); err != nil {
				return err
			}
		}

		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Accuracy.NoiseFiltering = strings.TrimSpace(c.Accuracy.NoiseFiltering)
	c.Timing.ClockSource = strings.TrimSpace(c.Timing.ClockSource)
}

// Validate checks for configuration errors.
func (c *Config) Validate() error {
	var errs []string

	if !oneOf(c.Log.Level, "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}
	if !oneOf(c.Log.Format, "text", "json") {
		errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
	}
	if !oneOf(c.Accuracy.NoiseFiltering, "none", "basic", "adaptive") {
		errs = append(errs, fmt.Sprintf("invalid accuracy.noise_filtering: %s", c.Accuracy.NoiseFiltering))
	}
	if !oneOf(c.Timing.ClockSource, "auto", "tsc", "monotonic_raw", "monotonic", "realtime") {
		errs = append(errs, fmt.Sprintf("invalid timing.clock_source: %s", c.Timing.ClockSource))
	}
	if c.Coordinator.MeasurementIntervalMS <= 0 {
		errs = append(errs, "coordinator.measurement_interval_ms must be positive")
	}
	if c.Coordinator.MeasurementBufferSize <= 0 {
		errs = append(errs, "coordinator.measurement_buffer_size must be positive")
	}
	for name, p := range c.Providers {
		if !oneOf(p.AccessMethod, "auto", "msr", "sysfs") {
			errs = append(errs, fmt.Sprintf("invalid providers.%s.access_method: %s", name, p.AccessMethod))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func oneOf(value string, candidates ...string) bool {
	for _, c := range candidates {
		if value == c {
			return true
		}
	}
	return false
}

// MeasurementInterval returns Coordinator.MeasurementIntervalMS as a
// time.Duration.
func (c *Config) MeasurementInterval() time.Duration {
	return time.Duration(c.Coordinator.MeasurementIntervalMS) * time.Millisecond
}

// ProviderRestartInterval returns Coordinator.ProviderRestartIntervalS as
// a time.Duration.
func (c *Config) ProviderRestartInterval() time.Duration {
	return time.Duration(c.Coordinator.ProviderRestartIntervalS) * time.Second
}

func (c *Config) String() string {
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err == nil {
		return string(bytes)
	}
	// NOTE: this code path should not happen but if it does (i.e. if json
	// marshal fails) for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
