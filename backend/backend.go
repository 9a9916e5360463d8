package backend

import (
	"errors"

	"github.com/gogpu/texcache/gpucore"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNilFactory is returned when a factory yields neither a device nor an error.
	ErrNilFactory = errors.New("backend: factory returned nil device")
)

// Backend name constants.
const (
	// BackendSoftware is the name of the CPU reference device.
	BackendSoftware = "software"
	// BackendWGPU is the name of the GPU device built on gogpu/wgpu HAL.
	BackendWGPU = "wgpu"
)

// Factory opens a new device. A factory may fail when its hardware is not
// present; Default then moves on to the next backend.
type Factory func() (gpucore.Device, error)
