package gpucore

import "errors"

// Device errors.
var (
	// ErrInvalidResource is returned when an ID does not name a live resource.
	ErrInvalidResource = errors.New("gpucore: invalid resource id")

	// ErrOutOfRange is returned when a write or copy exceeds a resource.
	ErrOutOfRange = errors.New("gpucore: range exceeds resource bounds")

	// ErrCompile is wrapped by CompileKernel failures.
	ErrCompile = errors.New("gpucore: kernel compilation failed")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("gpucore: device closed")
)

// Device is the capability surface the texture cache needs from a GPU.
//
// It abstracts over different backends so the same cache logic works with
// a hardware device (gogpu/wgpu HAL) and the CPU reference device.
// Devices are driven from a single rendering goroutine.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - IDs become invalid after destruction and must not be reused
//
// Dispatches and copies are submitted in call order on one queue; none of
// them wait for the GPU.
type Device interface {
	// Name returns the backend identifier (e.g., "software", "wgpu").
	Name() string

	// === Kernels ===

	// CompileKernel turns kernel source into a backend blob that can be
	// persisted and later passed to CreateKernel. defs carry the kernel
	// specialization (format, palette format, mode).
	CompileKernel(source string, defs map[string]string) ([]byte, error)

	// CreateKernel creates a dispatchable kernel from a compiled blob.
	CreateKernel(blob []byte, label string) (KernelID, error)

	// DestroyKernel releases a kernel.
	DestroyKernel(id KernelID)

	// DispatchDecode runs a kernel over Width x Height texels of Dest.
	DispatchDecode(id KernelID, params DispatchParams) error

	// === Buffers ===

	// CreateBuffer creates a GPU buffer of size bytes.
	CreateBuffer(size uint64, usage BufferUsage) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID)

	// UploadBytes writes data into a buffer at offset. It is used for both
	// raw texture and palette uploads.
	UploadBytes(id BufferID, offset uint64, data []byte) error

	// === Textures ===

	// CreateTexture creates a 2D texture.
	CreateTexture(desc *TextureDesc) (TextureID, error)

	// DestroyTexture releases a texture.
	DestroyTexture(id TextureID)

	// WriteTexture uploads tightly packed RGBA8 texels to one mip level.
	WriteTexture(id TextureID, level uint32, data []byte, width, height uint32) error

	// ReadTexture reads back tightly packed RGBA8 texels of one mip level.
	// This may stall until queued GPU work completes.
	ReadTexture(id TextureID, level uint32, width, height uint32) ([]byte, error)

	// CopyRegion copies rect r of src level 0 into dst at level, origin (0, 0).
	CopyRegion(dst, src TextureID, level uint32, r Rect) error

	// Close releases every resource owned by the device wrapper.
	Close()
}
