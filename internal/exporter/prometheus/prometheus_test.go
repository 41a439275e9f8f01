// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/codejoule/codejoule/internal/coordinator"
)

// MockAPIRegistry mocks the APIRegistry interface
type MockAPIRegistry struct {
	mock.Mock
}

func (m *MockAPIRegistry) Register(endpoint, summary, description string, handler http.Handler) error {
	args := m.Called(endpoint, summary, description, handler)
	return args.Error(0)
}

type fakeCoordinatorSource struct{}

func (fakeCoordinatorSource) GetSynchronizedReading() coordinator.SynchronizedReading {
	return coordinator.SynchronizedReading{}
}
func (fakeCoordinatorSource) Stats() (uint64, uint64) { return 0, 0 }

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name          string
		opts          []OptionFn
		expectService string
	}{{
		name:          "default options",
		opts:          []OptionFn{},
		expectService: "prometheus",
	}, {
		name: "with custom logger",
		opts: []OptionFn{
			WithLogger(slog.Default().With("test", "custom")),
		},
		expectService: "prometheus",
	}, {
		name: "with debug collectors",
		opts: []OptionFn{
			WithDebugCollectors(&[]string{"go", "process"}),
		},
		expectService: "prometheus",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRegistry := new(MockAPIRegistry)

			exporter := NewExporter(mockRegistry, tt.opts...)

			assert.NotNil(t, exporter)
			assert.Equal(t, tt.expectService, exporter.Name())
			assert.NotNil(t, exporter.logger)
			assert.NotNil(t, exporter.registry)
			assert.Same(t, mockRegistry, exporter.server)
		})
	}
}

func TestExporter_Init(t *testing.T) {
	t.Run("succeeds", func(t *testing.T) {
		mockRegistry := &MockAPIRegistry{}
		mockRegistry.On("Register", "/metrics", "Metrics", "Prometheus metrics", mock.Anything).Return(nil)

		exporter := NewExporter(mockRegistry)
		require.NoError(t, exporter.Init(context.Background()))
		mockRegistry.AssertExpectations(t)
	})

	t.Run("registry returns error", func(t *testing.T) {
		mockRegistry := &MockAPIRegistry{}
		expectedErr := errors.New("register error")
		mockRegistry.On("Register", "/metrics", "Metrics", "Prometheus metrics", mock.Anything).Return(expectedErr)

		exporter := NewExporter(mockRegistry)
		err := exporter.Init(context.Background())

		assert.ErrorIs(t, err, expectedErr)
	})

	t.Run("with invalid debug collector", func(t *testing.T) {
		mockRegistry := &MockAPIRegistry{}

		exporter := NewExporter(mockRegistry, WithDebugCollectors(&[]string{"unknown_collector"}))
		err := exporter.Init(context.Background())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown collector: unknown_collector")
		mockRegistry.AssertNotCalled(t, "Register")
	})

	t.Run("with collectors built from a coordinator source", func(t *testing.T) {
		mockRegistry := &MockAPIRegistry{}
		mockRegistry.On("Register", "/metrics", "Metrics", "Prometheus metrics", mock.Anything).Return(nil)

		cols := CreateCollectors(fakeCoordinatorSource{}, nil)
		exporter := NewExporter(mockRegistry, WithCollectors(cols))
		require.NoError(t, exporter.Init(context.Background()))
		mockRegistry.AssertExpectations(t)
	})
}

func TestExporter_Run_StopsOnContextCancel(t *testing.T) {
	mockRegistry := &MockAPIRegistry{}
	exporter := NewExporter(mockRegistry)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- exporter.Run(ctx) }()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run did not return after context was cancelled")
	}
}

func TestExporter_Shutdown(t *testing.T) {
	exporter := NewExporter(&MockAPIRegistry{})
	assert.NoError(t, exporter.Shutdown())
}

func TestCollectorForName(t *testing.T) {
	tests := []struct {
		name          string
		collectorName string
		expectError   bool
	}{{
		name:          "go collector",
		collectorName: "go",
		expectError:   false,
	}, {
		name:          "process collector",
		collectorName: "process",
		expectError:   false,
	}, {
		name:          "unknown collector",
		collectorName: "unknown",
		expectError:   true,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := collectorForName(tt.collectorName)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, c)
				assert.Contains(t, err.Error(), "unknown collector: "+tt.collectorName)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, c)
			registry := prom.NewRegistry()
			assert.NoError(t, registry.Register(c))
		})
	}
}

func TestWithOptions(t *testing.T) {
	t.Run("WithLogger", func(t *testing.T) {
		customLogger := slog.Default().With("custom", "logger")
		opts := DefaultOpts()

		WithLogger(customLogger)(&opts)

		assert.Equal(t, customLogger, opts.logger)
	})

	t.Run("WithDebugCollectors", func(t *testing.T) {
		names := []string{"process", "custom"}
		opts := DefaultOpts()

		WithDebugCollectors(&names)(&opts)

		assert.True(t, opts.debugCollectors["go"])      // From default
		assert.True(t, opts.debugCollectors["process"]) // Added
		assert.True(t, opts.debugCollectors["custom"])  // Added
	})
}

func TestDefaultOpts(t *testing.T) {
	opts := DefaultOpts()

	assert.NotNil(t, opts.logger)
	assert.NotNil(t, opts.debugCollectors)
	assert.True(t, opts.debugCollectors["go"])
}

func TestCreateCollectors(t *testing.T) {
	cols := CreateCollectors(fakeCoordinatorSource{}, nil)
	assert.Contains(t, cols, "build_info")
	assert.Contains(t, cols, "energy")
	assert.NotContains(t, cols, "session")
}
