package compressor

import "time"

// QueueKind names a device queue role. Backends may alias several roles to
// the same hardware queue.
type QueueKind int

const (
	QueueGraphics QueueKind = iota
	QueueCompute
	QueueTransfer
)

func (q QueueKind) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	}
	return "unknown"
}

// MemoryHint selects the memory heap an allocation should come from.
type MemoryHint int

const (
	// MemoryDeviceLocal is GPU-only memory.
	MemoryDeviceLocal MemoryHint = iota
	// MemoryUpload is host visible and coherent, written by the CPU each frame.
	MemoryUpload
	// MemoryReadback is host visible and cached, read back by the CPU.
	MemoryReadback
)

func (m MemoryHint) HostVisible() bool {
	return m == MemoryUpload || m == MemoryReadback
}

// Usage is a set of resource usage flags.
type Usage uint32

const (
	UsageTransferSrc Usage = 1 << iota
	UsageTransferDst
	UsageUniform
	UsageStorage
	UsageVertex
	UsageIndex
	UsageSampled
	UsageColorAttachment
)

func (u Usage) Has(flag Usage) bool { return u&flag == flag }

// ResourceKind distinguishes buffers from images.
type ResourceKind int

const (
	KindBuffer ResourceKind = iota
	KindImage
)

// Extent is a 2D size in pixels.
type Extent struct {
	Width, Height uint32
}

func (e Extent) Empty() bool { return e.Width == 0 || e.Height == 0 }

// AllocationDesc describes a single backing allocation.
type AllocationDesc struct {
	Name   string
	Kind   ResourceKind
	Size   uint64 // buffers only
	Extent Extent // images only
	Format Format // images only
	Usage  Usage
	Hint   MemoryHint
}

// ByteSize is the number of bytes the resource occupies, ignoring alignment
// padding introduced by the backend.
func (d AllocationDesc) ByteSize() uint64 {
	if d.Kind == KindImage {
		return d.Format.SizeOf(d.Extent)
	}
	return d.Size
}

// Allocation is a backend-owned resource with its bound memory.
type Allocation interface {
	// Size is the requested size in bytes.
	Size() uint64
	// Mapped returns the persistently mapped bytes of host visible
	// allocations and nil otherwise.
	Mapped() []byte
}

// Requirements lists what a device must support.
type Requirements struct {
	AppName        string
	Extensions     []string
	Features       []string
	Validation     bool
	PreferDiscrete bool
	// Headless skips surface and present queue selection.
	Headless bool
}

// DeviceInfo describes the device a backend selected.
type DeviceInfo struct {
	Name     string
	Type     string
	Families map[QueueKind]uint32
	// PresentFamily is the queue family used for presentation.
	PresentFamily uint32
}

// Aliased reports whether two roles share a queue family.
func (d DeviceInfo) Aliased(a, b QueueKind) bool {
	fa, oka := d.Families[a]
	fb, okb := d.Families[b]
	return oka && okb && fa == fb
}

// Driver is the backend seam under DeviceContext. The Vulkan implementation
// lives in package vkdriver.
type Driver interface {
	Open(req Requirements) (DeviceInfo, error)
	Allocate(desc AllocationDesc) (Allocation, error)
	Free(a Allocation)
	NewFence(signaled bool, name string) (Fence, error)
	NewSemaphore(name string) (Semaphore, error)
	NewCommandBuffer(queue QueueKind, name string) (CommandBuffer, error)
	// Submit queues cmd. wait and signal may be nil.
	Submit(queue QueueKind, cmd CommandBuffer, wait, signal Semaphore, fence Fence) error
	WaitIdle() error
	Close()
}

// Fence is a host-waitable completion signal.
type Fence interface {
	// Wait blocks for at most timeout. It reports false when the timeout
	// elapsed before the fence signaled.
	Wait(timeout time.Duration) (bool, error)
	Reset() error
	Destroy()
}

// Semaphore orders queue operations on the device.
type Semaphore interface {
	Destroy()
}

// CommandRecorder is the recording surface handed to workloads and overlays.
type CommandRecorder interface {
	// ClearColor clears a swapchain image.
	ClearColor(target *SwapchainImage, rgba [4]float32)
	// FillBuffer writes value repeatedly over size bytes at offset.
	FillBuffer(dst *GpuResource, offset, size uint64, value uint32)
	// CopyBuffer copies size bytes from the start of src to the start of dst.
	CopyBuffer(src, dst *GpuResource, size uint64)
	// CopyBufferToImage copies tightly packed pixels from src into target.
	CopyBufferToImage(src *GpuResource, target *SwapchainImage)
}

// CommandBuffer is a resettable primary command buffer.
type CommandBuffer interface {
	CommandRecorder
	// Begin resets and begins recording.
	Begin() error
	// PresentBarrier transitions target into its presentable layout.
	PresentBarrier(target *SwapchainImage)
	End() error
	Destroy()
}

// SwapchainConfig is passed to a Presenter on creation and recreation.
type SwapchainConfig struct {
	Extent      Extent
	ImageCount  uint32
	PresentMode PresentMode
}

// PresentMode selects the presentation engine queueing behavior.
type PresentMode int

const (
	PresentFIFO PresentMode = iota
	PresentMailbox
	PresentImmediate
)

// Presenter is the swapchain backend seam.
type Presenter interface {
	// Configure builds or rebuilds the swapchain and returns its images.
	// Images from a previous call are invalid afterwards.
	Configure(cfg SwapchainConfig) ([]SwapchainImage, error)
	// Acquire returns the next image index. It fails with
	// ErrSwapchainOutOfDate when the surface changed.
	Acquire(signal Semaphore, timeout time.Duration) (uint32, error)
	// Present queues image index for display after wait. It fails with
	// ErrSwapchainOutOfDate when the surface changed.
	Present(index uint32, wait Semaphore) error
	Destroy()
}
