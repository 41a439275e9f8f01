// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIServer(t *testing.T) {
	tt := []struct {
		name string
		opts []OptionFn
	}{
		{name: "default options", opts: []OptionFn{}},
		{name: "with custom logger", opts: []OptionFn{WithLogger(slog.Default().With("test", "custom"))}},
		{name: "with custom listen address", opts: []OptionFn{WithListen(":8080")}},
	}

	for _, tt := range tt {
		t.Run(tt.name, func(t *testing.T) {
			server := NewAPIServer(tt.opts...)
			assert.NotNil(t, server)
			assert.Equal(t, "api-server", server.Name())
			assert.NotNil(t, server.mux)
			assert.NotNil(t, server.logger)
		})
	}
}

func TestAPIServer_Init(t *testing.T) {
	server := NewAPIServer()
	assert.NoError(t, server.Init(context.Background()))
}

func TestAPIServer_Shutdown(t *testing.T) {
	server := NewAPIServer()
	assert.NoError(t, server.Shutdown())
}

func TestAPIServer_Register(t *testing.T) {
	t.Run("registers endpoints correctly", func(t *testing.T) {
		server := NewAPIServer()

		testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		err := server.Register("/test", "Test Endpoint", "A test endpoint", testHandler)
		require.NoError(t, err)

		assert.Contains(t, server.endpointDescription, "/test")
		assert.Contains(t, server.endpointDescription, "Test Endpoint")
		assert.Contains(t, server.endpointDescription, "A test endpoint")

		muxHandler, pattern := server.mux.Handler(&http.Request{URL: &url.URL{Path: "/test"}})
		assert.Equal(t, "/test", pattern)
		assert.NotNil(t, muxHandler)
	})

	t.Run("registers multiple endpoints", func(t *testing.T) {
		server := NewAPIServer()

		err1 := server.Register("/endpoint1", "Endpoint 1", "First test endpoint", http.NotFoundHandler())
		err2 := server.Register("/endpoint2", "Endpoint 2", "Second test endpoint", http.NotFoundHandler())
		require.NoError(t, err1)
		require.NoError(t, err2)

		assert.Contains(t, server.endpointDescription, "/endpoint1")
		assert.Contains(t, server.endpointDescription, "/endpoint2")
	})
}

func TestAPIServer_RunWithContextCancellation(t *testing.T) {
	server := NewAPIServer()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := server.Run(ctx)
	assert.NoError(t, err)
}

func findFreePort() int {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		panic(err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func TestAPIServer_PortConflict(t *testing.T) {
	port := findFreePort()
	addr := fmt.Sprintf(":%d", port)

	blockingServer := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	}

	listener, err := net.Listen("tcp", addr)
	require.NoError(t, err)

	go func() { _ = blockingServer.Serve(listener) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = blockingServer.Shutdown(ctx)
		_ = listener.Close()
	})

	apiServer := NewAPIServer(WithListen(addr))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = apiServer.Run(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "in use")
}

func TestAPIServer_RootEndpoint(t *testing.T) {
	port := findFreePort()
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	server := NewAPIServer(WithListen(addr))
	assert.NoError(t, server.Init(context.Background()))

	err := server.Register("/api/test", "Test API", "Test API endpoint", http.NotFoundHandler())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go func() { errCh <- server.Run(ctx) }()

	time.Sleep(300 * time.Millisecond)

	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(fmt.Sprintf("http://%s/", addr))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	htmlContent := string(body)
	assert.Contains(t, htmlContent, "/api/test")
	assert.Contains(t, htmlContent, "Test API")
	assert.Contains(t, htmlContent, "<html>")
	assert.Contains(t, htmlContent, "</html>")

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server didn't shut down within expected timeframe")
	}
}
