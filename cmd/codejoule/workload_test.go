// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkloadFunc(t *testing.T) {
	t.Run("cpu_stress resolves", func(t *testing.T) {
		run, err := workloadFunc("cpu_stress", time.Millisecond)
		require.NoError(t, err)
		assert.NoError(t, run())
	})

	t.Run("memory_stress resolves", func(t *testing.T) {
		run, err := workloadFunc("memory_stress", time.Millisecond)
		require.NoError(t, err)
		assert.NoError(t, run())
	})

	t.Run("unknown workload errors", func(t *testing.T) {
		_, err := workloadFunc("disk_stress", time.Millisecond)
		assert.Error(t, err)
		var unknown ErrUnknownWorkload
		assert.ErrorAs(t, err, &unknown)
		assert.Equal(t, "disk_stress", unknown.Name)
	})
}
