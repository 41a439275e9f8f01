// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package server hosts the optional ops-telemetry HTTP endpoint (Prometheus
// metrics for provider health and sampler latency). It is not part of the
// energy/checkpoint data path, which is served entirely through the CLI and
// the on-disk session store.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codejoule/codejoule/internal/service"
)

// APIService is the HTTP server that other services register endpoints on.
type APIService interface {
	service.Service
	Register(endpoint, summary, description string, handler http.Handler) error
}

// APIServer is a minimal bare net/http server used to expose ops-telemetry.
type APIServer struct {
	logger              *slog.Logger
	server              *http.Server
	mux                 *http.ServeMux
	addr                string
	endpointDescription string
}

var _ APIService = (*APIServer)(nil)

type Opts struct {
	logger *slog.Logger
	addr   string
}

type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) { o.logger = logger }
}

// WithListen sets the TCP listen address, e.g. "127.0.0.1:28283".
func WithListen(addr string) OptionFn {
	return func(o *Opts) { o.addr = addr }
}

func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		addr:   "127.0.0.1:28283",
	}
}

func NewAPIServer(applyOpts ...OptionFn) *APIServer {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	mux := http.NewServeMux()
	return &APIServer{
		logger: opts.logger.With("service", "api-server"),
		mux:    mux,
		addr:   opts.addr,
		server: &http.Server{Addr: opts.addr, Handler: mux},
	}
}

func (s *APIServer) Name() string { return "api-server" }

func (s *APIServer) Init(ctx context.Context) error {
	s.logger.Info("initializing api server", "addr", s.addr)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, err := w.Write(fmt.Appendf([]byte{}, `<html>
<head><title>codejoule</title></head>
<body>
<h1>codejoule ops telemetry</h1>
<ul>
	%s
</ul>
</body>
</html>`, s.endpointDescription))
		if err != nil {
			s.logger.Error("failed to write landing page", "error", err)
		}
	})
	return nil
}

func (s *APIServer) Run(ctx context.Context) error {
	s.logger.Info("running api server", "addr", s.addr)
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down api server on context done")
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server returned an error", "error", err)
			return err
		}
		return nil
	}
}

func (s *APIServer) Shutdown() error {
	s.logger.Info("shutting down api server on request")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *APIServer) Register(endpoint, summary, description string, handler http.Handler) error {
	s.logger.Debug("endpoint registered", "endpoint", endpoint)
	s.mux.Handle(endpoint, handler)
	s.endpointDescription += fmt.Sprintf("<li><a href=%q>%s</a> %s</li>\n", endpoint, summary, description)
	return nil
}
