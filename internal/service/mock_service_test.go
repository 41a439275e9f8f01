// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// mockService implements Service, with every lifecycle hook overridable.
type mockService struct {
	name string

	initFn     func(ctx context.Context) error
	runFn      func(ctx context.Context) error
	shutdownFn func() error

	initCount     int
	runCount      int
	shutdownCount int
}

func (m *mockService) Name() string {
	return m.name
}

func (m *mockService) Init(ctx context.Context) error {
	m.initCount++
	if m.initFn != nil {
		return m.initFn(ctx)
	}
	return nil
}

func (m *mockService) Run(ctx context.Context) error {
	m.runCount++
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	return nil
}

func (m *mockService) Shutdown() error {
	m.shutdownCount++
	if m.shutdownFn != nil {
		return m.shutdownFn()
	}
	return nil
}
