// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package amd

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/codejoule/codejoule/internal/device"
	"github.com/codejoule/codejoule/internal/device/gpu"
)

func init() {
	gpu.Register(gpu.VendorAMD, func(logger *slog.Logger) (gpu.GPUPowerMeter, error) {
		return NewGPUPowerCollector(logger)
	})
}

const (
	rocmSMICmd     = "rocm-smi"
	defaultDRMRoot = "/sys/class/drm"
)

var rocmSMIArgs = []string{"--showid", "--showproductname", "--showpower", "--showmeminfo", "vram", "--json"}

// commandRunner executes an external command and returns its stdout.
// Substituted in tests so they do not depend on rocm-smi being installed.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// GPUPowerCollector implements gpu.GPUPowerMeter for AMD GPUs. It prefers
// rocm-smi's JSON output and falls back to the amdgpu hwmon sysfs power
// sensor when ROCm tooling is not installed.
type GPUPowerCollector struct {
	logger  *slog.Logger
	runCmd  commandRunner
	drmRoot string

	useSysfs   bool
	sysfsPaths []string // index-aligned with devices

	devices     []gpu.GPUDevice
	integrators map[int]*energyIntegrator

	mu sync.RWMutex
}

// NewGPUPowerCollector creates a new AMD GPU power collector.
func NewGPUPowerCollector(logger *slog.Logger) (*GPUPowerCollector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &GPUPowerCollector{
		logger:      logger.With("component", "amd-gpu-collector"),
		runCmd:      execCommandRunner,
		drmRoot:     defaultDRMRoot,
		integrators: make(map[int]*energyIntegrator),
	}, nil
}

// Name returns the service name
func (c *GPUPowerCollector) Name() string {
	return "amd-gpu-power-collector"
}

// Init discovers AMD GPUs via rocm-smi, falling back to amdgpu sysfs hwmon
// power sensors when rocm-smi is not on PATH.
func (c *GPUPowerCollector) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := exec.LookPath(rocmSMICmd); err != nil {
		c.logger.Info("rocm-smi not found, falling back to amdgpu sysfs hwmon")
		return c.initFromSysfsLocked()
	}
	return c.initFromRocmSMILocked(ctx)
}

func (c *GPUPowerCollector) initFromSysfsLocked() error {
	paths, err := discoverSysfsAMDPowerPaths(c.drmRoot)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no amdgpu hwmon power sensors found under %s", c.drmRoot)
	}

	c.useSysfs = true
	c.sysfsPaths = paths
	c.devices = make([]gpu.GPUDevice, len(paths))
	for i := range paths {
		c.devices[i] = gpu.GPUDevice{
			Index:  i,
			UUID:   fmt.Sprintf("amd-sysfs-%d", i),
			Name:   "AMD GPU",
			Vendor: gpu.VendorAMD,
		}
		c.integrators[i] = newEnergyIntegrator()
	}
	return nil
}

func (c *GPUPowerCollector) initFromRocmSMILocked(ctx context.Context) error {
	entries, err := c.queryRocmSMILocked(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("rocm-smi returned no devices")
	}

	ids := sortedCardIDs(entries)
	c.devices = make([]gpu.GPUDevice, len(ids))
	for i, id := range ids {
		entry := entries[id]
		c.devices[i] = gpu.GPUDevice{
			Index:  i,
			UUID:   id,
			Name:   entry.Name,
			Vendor: gpu.VendorAMD,
		}
		c.integrators[i] = newEnergyIntegrator()
	}
	return nil
}

func (c *GPUPowerCollector) queryRocmSMILocked(ctx context.Context) (map[string]rocmSMIEntry, error) {
	out, err := c.runCmd(ctx, rocmSMICmd, rocmSMIArgs...)
	if err != nil {
		return nil, fmt.Errorf("rocm-smi failed: %w", err)
	}
	return parseRocmSMIOutput(out)
}

// Run blocks until the context is cancelled. Like the NVIDIA collector, it
// does not run a background sampling loop; GetPowerUsage pulls and
// integrates a fresh sample on demand.
func (c *GPUPowerCollector) Run(ctx context.Context) error {
	c.logger.Info("amd gpu collector running")
	<-ctx.Done()
	c.logger.Info("amd gpu collector stopped")
	return nil
}

// Shutdown releases collector resources. Neither the rocm-smi nor sysfs
// backend holds any open handle that needs closing.
func (c *GPUPowerCollector) Shutdown() error {
	return nil
}

// Vendor returns the GPU vendor
func (c *GPUPowerCollector) Vendor() gpu.Vendor {
	return gpu.VendorAMD
}

// Devices returns all discovered GPU devices
func (c *GPUPowerCollector) Devices() []gpu.GPUDevice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices
}

// samplePowerWatts returns the current instantaneous power for a device
// index, from whichever backend Init selected.
func (c *GPUPowerCollector) samplePowerWatts(ctx context.Context, deviceIndex int) (float64, error) {
	c.mu.RLock()
	useSysfs := c.useSysfs
	c.mu.RUnlock()

	if useSysfs {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if deviceIndex < 0 || deviceIndex >= len(c.sysfsPaths) {
			return 0, gpu.ErrGPUNotFound{DeviceIndex: deviceIndex}
		}
		return readSysfsPowerWatts(c.sysfsPaths[deviceIndex])
	}

	entries, err := c.queryRocmSMILocked(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if deviceIndex < 0 || deviceIndex >= len(c.devices) {
		return 0, gpu.ErrGPUNotFound{DeviceIndex: deviceIndex}
	}
	entry, ok := entries[c.devices[deviceIndex].UUID]
	if !ok {
		return 0, fmt.Errorf("rocm-smi output missing device %s", c.devices[deviceIndex].UUID)
	}
	return entry.powerWatts()
}

// GetPowerUsage returns the current power consumption for a device as a
// device.Power, folding the sample into the device's cumulative energy
// integrator.
func (c *GPUPowerCollector) GetPowerUsage(deviceIndex int) (device.Power, error) {
	c.mu.RLock()
	integrator := c.integrators[deviceIndex]
	c.mu.RUnlock()
	if integrator == nil {
		return 0, gpu.ErrGPUNotFound{DeviceIndex: deviceIndex}
	}

	watts, err := c.samplePowerWatts(context.Background(), deviceIndex)
	if err != nil {
		return 0, err
	}
	integrator.add(time.Now(), watts)

	return device.Power(watts) * device.Watt, nil
}

// GetTotalEnergy returns the cumulative energy consumption for a device as
// a device.Energy, integrated from power samples taken via GetPowerUsage.
func (c *GPUPowerCollector) GetTotalEnergy(deviceIndex int) (device.Energy, error) {
	c.mu.RLock()
	integrator := c.integrators[deviceIndex]
	c.mu.RUnlock()
	if integrator == nil {
		return 0, gpu.ErrGPUNotFound{DeviceIndex: deviceIndex}
	}
	return integrator.total(), nil
}

// GetDevicePowerStats returns power statistics including idle power
// detection, mirroring the NVIDIA collector's min-observed-power heuristic.
func (c *GPUPowerCollector) GetDevicePowerStats(deviceIndex int) (gpu.GPUPowerStats, error) {
	c.mu.RLock()
	integrator := c.integrators[deviceIndex]
	c.mu.RUnlock()
	if integrator == nil {
		return gpu.GPUPowerStats{}, gpu.ErrGPUNotFound{DeviceIndex: deviceIndex}
	}

	power, err := c.GetPowerUsage(deviceIndex)
	if err != nil {
		return gpu.GPUPowerStats{}, err
	}

	totalPower := power.Watts()
	idlePower := integrator.minObserved()
	activePower := totalPower - idlePower
	if activePower < 0 {
		activePower = 0
	}

	return gpu.GPUPowerStats{
		TotalPower:  totalPower,
		IdlePower:   idlePower,
		ActivePower: activePower,
	}, nil
}

// GetProcessPower is unsupported: rocm-smi does not expose per-process power
// attribution, and the sysfs fallback exposes no process information at all.
func (c *GPUPowerCollector) GetProcessPower() (map[uint32]float64, error) {
	return nil, gpu.ErrProcessUtilizationUnavailable{Reason: "AMD backend (rocm-smi/sysfs) does not report per-process GPU utilization"}
}

// GetProcessInfo is unsupported for the same reason as GetProcessPower.
func (c *GPUPowerCollector) GetProcessInfo() ([]gpu.ProcessGPUInfo, error) {
	return nil, gpu.ErrProcessUtilizationUnavailable{Reason: "AMD backend (rocm-smi/sysfs) does not report per-process GPU utilization"}
}

// Ensure GPUPowerCollector implements gpu.GPUPowerMeter
var _ gpu.GPUPowerMeter = (*GPUPowerCollector)(nil)
