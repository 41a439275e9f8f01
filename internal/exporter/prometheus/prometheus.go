// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	collector "github.com/codejoule/codejoule/internal/exporter/prometheus/collector"
	"github.com/codejoule/codejoule/internal/service"
)

type Service = service.Service

// APIRegistry registers an HTTP handler with the hosting process's server.
type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

type Opts struct {
	logger          *slog.Logger
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		debugCollectors: map[string]bool{
			"go": true,
		},
		collectors: map[string]prom.Collector{},
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

// WithDebugCollectors sets the debug collectors
func WithDebugCollectors(c *[]string) OptionFn {
	return func(o *Opts) {
		for _, name := range *c {
			o.debugCollectors[name] = true
		}
	}
}

func WithCollectors(c map[string]prom.Collector) OptionFn {
	return func(o *Opts) {
		o.collectors = c
	}
}

// Exporter exports energy and session data to Prometheus.
type Exporter struct {
	logger          *slog.Logger
	registry        *prom.Registry
	server          APIRegistry
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

var _ Service = (*Exporter)(nil)

// NewExporter creates a new Prometheus exporter instance.
func NewExporter(s APIRegistry, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		server:          s,
		logger:          opts.logger.With("service", "prometheus"),
		debugCollectors: opts.debugCollectors,
		collectors:      opts.collectors,
		registry:        prom.NewRegistry(),
	}
}

func collectorForName(name string) (prom.Collector, error) {
	switch name {
	case "go":
		return collectors.NewGoCollector(), nil
	case "process":
		return collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), nil
	default:
		return nil, fmt.Errorf("unknown collector: %s", name)
	}
}

// CreateCollectors builds the collector set from a coordinator source and
// an optional session store. storeSource may be nil when no persisted
// sessions are available yet.
func CreateCollectors(coordinatorSource collector.CoordinatorSource, storeSource collector.SessionSource, applyOpts ...OptionFn) map[string]prom.Collector {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	result := map[string]prom.Collector{
		"build_info": collector.NewKeplerBuildInfoCollector(),
		"energy":     collector.NewEnergyCollector(coordinatorSource, opts.logger),
	}
	if storeSource != nil {
		result["session"] = collector.NewSessionCollector(storeSource, opts.logger)
	}
	return result
}

func (e *Exporter) Init(ctx context.Context) error {
	e.logger.Info("Initializing Prometheus exporter")
	for c := range e.debugCollectors {
		dc, err := collectorForName(c)
		if err != nil {
			e.logger.Error("Error creating collector", "collector", c, "error", err)
			return err
		}
		e.logger.Info("Enabling debug collector", "collector", c)
		e.registry.MustRegister(dc)
	}

	for name, c := range e.collectors {
		e.logger.Info("Enabling collector", "collector", name)
		e.registry.MustRegister(c)
	}

	return e.server.Register("/metrics", "Metrics", "Prometheus metrics",
		promhttp.HandlerFor(
			e.registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          e.registry,
			},
		))
}

// Run blocks until ctx is cancelled; the HTTP server owns the actual
// metrics endpoint, so the exporter itself has nothing further to do.
func (e *Exporter) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (e *Exporter) Shutdown() error {
	return nil
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "prometheus"
}
