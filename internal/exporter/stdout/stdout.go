// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/codejoule/codejoule/internal/coordinator"
	"github.com/codejoule/codejoule/internal/service"
	"github.com/codejoule/codejoule/internal/store"
)

type Service = service.Service

// CoordinatorSource is the subset of *coordinator.Coordinator the stdout
// exporter depends on.
type CoordinatorSource interface {
	GetSynchronizedReading() coordinator.SynchronizedReading
}

// SessionSource is the subset of *store.Store the stdout exporter depends
// on for printing the most recently persisted session's breakdown.
// Optional: a nil SessionSource disables that section.
type SessionSource interface {
	ListSessions() ([]store.SessionSummary, error)
	GetFunctionStats(sessionID string) ([]store.FunctionStat, error)
}

// Exporter prints energy readings and session summaries to stdout
// periodically.
type Exporter struct {
	logger   *slog.Logger
	source   CoordinatorSource
	sessions SessionSource
	out      io.WriteCloser
	ticker   time.Ticker
	interval time.Duration
}

var _ Service = (*Exporter)(nil)

type Opts struct {
	logger   *slog.Logger
	out      io.WriteCloser
	interval time.Duration
	sessions SessionSource
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default().With("service", "stdout"),
		out:      os.Stdout,
		interval: 2 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

// WithSessions enables printing the most recently persisted session's
// per-function energy breakdown alongside the live reading.
func WithSessions(s SessionSource) OptionFn {
	return func(o *Opts) {
		o.sessions = s
	}
}

func NewExporter(source CoordinatorSource, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		source:   source,
		sessions: opts.sessions,
		out:      opts.out,
		interval: opts.interval,
	}
}

func (e *Exporter) Init(_ context.Context) error {
	e.ticker = *time.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	for {
		select {
		case now := <-e.ticker.C:
			reading := e.source.GetSynchronizedReading()
			writeReading(e.out, now, reading)
			if e.sessions != nil {
				writeLatestSession(e.out, e.sessions, e.logger)
			}
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

func writeReading(out io.Writer, _ time.Time, reading coordinator.SynchronizedReading) {
	rows := [][]string{}
	for _, r := range reading.Readings {
		rows = append(rows, []string{
			r.ProviderID,
			formatWatts(r.AveragePowerWatts),
			formatJoules(r.EnergyJoules),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Provider", "Power(W)", "Absolute(J)"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func writeLatestSession(out io.Writer, src SessionSource, logger *slog.Logger) {
	sessions, err := src.ListSessions()
	if err != nil {
		logger.Error("Failed to list sessions", "error", err)
		return
	}
	if len(sessions) == 0 {
		return
	}

	latest := sessions[0]
	stats, err := src.GetFunctionStats(latest.SessionID)
	if err != nil {
		logger.Error("Failed to get function stats", "session", latest.SessionID, "error", err)
		return
	}

	rows := [][]string{}
	for _, fs := range stats {
		rows = append(rows, []string{fs.FunctionName, formatJoules(fs.TotalJoules), formatJoules(fs.AvgJoules)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Function (" + latest.SessionID + ")", "Total(J)", "Avg(J)"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func formatWatts(w float64) string {
	return fmt.Sprintf("%.2fW", w)
}

func formatJoules(j float64) string {
	return fmt.Sprintf("%.2fJ", j)
}

func (e *Exporter) Shutdown() error {
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}
