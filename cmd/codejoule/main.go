// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Command codejoule is the CLI front-end for the Native Energy
// Measurement Backend + Checkpoint Correlator (spec.md §6): init-sensors,
// measure-workload, analyze, and one dynamic subcommand per registered
// instrumentation front-end adapter.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/codejoule/codejoule/internal/config"
	"github.com/codejoule/codejoule/internal/correlator"
	"github.com/codejoule/codejoule/internal/frontend"
	"github.com/codejoule/codejoule/internal/logger"
	"github.com/codejoule/codejoule/internal/store"
)

const defaultStorePath = "codejoule-sessions.db"

// langCmd binds one dynamically-registered per-language kingpin command
// to its parsed flag/arg pointers, set up before app.Parse runs.
type langCmd struct {
	lang       string
	cmd        *kingpin.CmdClause
	sourceFile *string
	progArgs   *[]string
	jsonOutput *string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	app := kingpin.New("codejoule", "Native energy measurement and checkpoint correlation")
	configUpdater := config.RegisterFlags(app)

	configFile := app.Flag("config", "Path to a JSON configuration file").String()
	storePath := app.Flag("store", "Path to the session store database").Default(defaultStorePath).String()

	initSensorsCmd := app.Command("init-sensors", "Detect and self-test every available energy provider")

	measureCmd := app.Command("measure-workload", "Run a synthetic workload and report its energy consumption")
	measureDuration := measureCmd.Flag("duration", "Workload duration in seconds").Required().Int()
	measureWorkloadName := measureCmd.Flag("workload", "Synthetic workload: cpu_stress or memory_stress").Required().String()

	analyzeCmd := app.Command("analyze", "Generate and report instrumentation checkpoints without executing the program")
	analyzeSource := analyzeCmd.Arg("source-file", "Path to the source file to analyze").Required().String()
	analyzeSave := analyzeCmd.Flag("save-instrumented", "Write the instrumented source alongside the report").Bool()
	analyzeOutputDir := analyzeCmd.Flag("output-dir", "Directory to write the instrumented source into").Default(".").String()
	analyzeVerbose := analyzeCmd.Flag("verbose", "Print every generated checkpoint").Bool()

	registry := frontend.NewRegistry()

	langCmds := make([]langCmd, 0, len(registry.Languages()))
	for _, lang := range registry.Languages() {
		cmd := app.Command(lang, fmt.Sprintf("Instrument, run, and correlate energy for a %s program", lang))
		langCmds = append(langCmds, langCmd{
			lang:       lang,
			cmd:        cmd,
			sourceFile: cmd.Arg("source-file", "Path to the source file to run").Required().String(),
			progArgs:   cmd.Arg("args", "Arguments passed through to the instrumented program").Strings(),
			jsonOutput: cmd.Flag("json-output", "Write the session report as JSON to this path").String(),
		})
	}

	command, err := app.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		cfg, err = config.FromFile(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	if err := configUpdater(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch command {
	case initSensorsCmd.FullCommand():
		err = initSensors(ctx, cfg, log)

	case measureCmd.FullCommand():
		err = measureWorkload(ctx, cfg, log, time.Duration(*measureDuration)*time.Second, *measureWorkloadName)

	case analyzeCmd.FullCommand():
		err = analyze(registry, analyzeOpts{
			sourceFile:       *analyzeSource,
			saveInstrumented: *analyzeSave,
			outputDir:        *analyzeOutputDir,
			verbose:          *analyzeVerbose,
		}, log)

	default:
		err = dispatchLanguageCommand(ctx, command, langCmds, registry, cfg, *storePath, log)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func dispatchLanguageCommand(ctx context.Context, command string, langCmds []langCmd, registry *frontend.Registry, cfg *config.Config, storePath string, log *slog.Logger) error {
	for _, lc := range langCmds {
		if lc.cmd.FullCommand() != command {
			continue
		}

		adapter, err := registry.ByLanguage(lc.lang)
		if err != nil {
			return err
		}

		coord, providers, err := newMeasurementCoordinator(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			for _, p := range providers {
				p.Shutdown()
			}
		}()

		runCtx, runCancel := context.WithCancel(ctx)
		defer runCancel()

		errCh := make(chan error, 1)
		go func() { errCh <- coord.Run(runCtx) }()
		time.Sleep(2 * cfg.MeasurementInterval())

		corr := correlator.New(coord, log)

		st, err := store.Open(storePath)
		if err != nil {
			runCancel()
			<-errCh
			return err
		}
		defer st.Close()

		runErr := runLanguageSession(ctx, adapter, corr, st, runOpts{
			sourceFile: *lc.sourceFile,
			args:       *lc.progArgs,
			jsonOutput: *lc.jsonOutput,
		}, log)

		runCancel()
		<-errCh

		return runErr
	}

	return fmt.Errorf("unknown command: %s", command)
}
