package gpu

import (
	"github.com/jaypipes/ghw"

	"github.com/docker/model-ops-coordinator/internal/logging"
)

// mockTotalVRAMMB is the fallback total VRAM used when no real GPU can be
// queried, matching original_source/core/gpu_manager.py's GPUtil-less
// mock-GPU fallback (24000 MB).
const mockTotalVRAMMB = 24000

// DeviceProbe enumerates devices at startup and refreshes instantaneous
// metrics on each background poll. Mockable per spec.md §3.
type DeviceProbe interface {
	Probe() ([]Device, error)
}

// GHWDeviceProbe queries devices via github.com/jaypipes/ghw, the vendor
// library the teacher uses for GPU enumeration
// (pkg/inference/backends/llamacpp/gpuinfo_windows.go's ghw.GPU() call).
type GHWDeviceProbe struct {
	log logging.Logger
}

func NewGHWDeviceProbe(log logging.Logger) *GHWDeviceProbe {
	return &GHWDeviceProbe{log: log}
}

func (p *GHWDeviceProbe) Probe() ([]Device, error) {
	gpuInfo, err := ghw.GPU()
	if err != nil || len(gpuInfo.GraphicsCards) == 0 {
		p.log.WithError(err).Warn("gpu probe unavailable, falling back to mock device")
		return []Device{mockDevice()}, nil
	}
	devices := make([]Device, 0, len(gpuInfo.GraphicsCards))
	for i, card := range gpuInfo.GraphicsCards {
		name := "unknown"
		if card.DeviceInfo != nil && card.DeviceInfo.Vendor != nil {
			name = card.DeviceInfo.Vendor.Name
		}
		// ghw does not expose live VRAM/utilization counters on every
		// platform; devices start at the mock total and are refined by
		// whatever backend-specific telemetry is wired in later.
		devices = append(devices, Device{
			Index:       i,
			Name:        name,
			TotalVRAMMB: mockTotalVRAMMB,
			FreeVRAMMB:  mockTotalVRAMMB,
		})
	}
	return devices, nil
}

func mockDevice() Device {
	return Device{
		Index:       0,
		Name:        "mock-gpu",
		TotalVRAMMB: mockTotalVRAMMB,
		FreeVRAMMB:  mockTotalVRAMMB,
	}
}

// MockDeviceProbe is used in tests and whenever GPU enumeration is
// explicitly disabled.
type MockDeviceProbe struct {
	Devices []Device
}

func (p *MockDeviceProbe) Probe() ([]Device, error) {
	if len(p.Devices) == 0 {
		return []Device{mockDevice()}, nil
	}
	return p.Devices, nil
}
