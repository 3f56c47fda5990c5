package compressor

import (
	"log/slog"
	"sort"

	"github.com/pkg/errors"
)

type liveAllocation struct {
	name string
	size uint64
}

// DeviceContext owns the logical device, its queues and the memory
// allocator through a Driver. It is created first and destroyed last.
type DeviceContext struct {
	drv  Driver
	info DeviceInfo
	log  *slog.Logger

	live      map[Allocation]liveAllocation
	allocated uint64
	closed    bool

	// upload context for ImmediateSubmit, created lazily
	uploadCmd   CommandBuffer
	uploadFence Fence
}

// NewDeviceContext opens drv against req.
func NewDeviceContext(drv Driver, req Requirements) (*DeviceContext, error) {
	info, err := drv.Open(req)
	if err != nil {
		var initErr *DeviceInitError
		if errors.As(err, &initErr) {
			return nil, err
		}
		return nil, &DeviceInitError{Err: err}
	}
	d := &DeviceContext{
		drv:  drv,
		info: info,
		log:  Logger().With("component", "device"),
		live: make(map[Allocation]liveAllocation),
	}
	d.log.Info("device selected", "name", info.Name, "type", info.Type,
		"graphics_compute_aliased", info.Aliased(QueueGraphics, QueueCompute))
	return d, nil
}

func (d *DeviceContext) Info() DeviceInfo { return d.info }

// Driver returns the backend. Callers must not free through it.
func (d *DeviceContext) Driver() Driver { return d.drv }

// Allocate creates a buffer or image with bound memory. Allocator
// exhaustion is reported as *OutOfMemoryError.
func (d *DeviceContext) Allocate(desc AllocationDesc) (Allocation, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if desc.Name == "" {
		return nil, errors.New("allocation needs a debug name")
	}
	a, err := d.drv.Allocate(desc)
	switch {
	case err == nil:
	case errors.Is(err, ErrOutOfDeviceMemory):
		return nil, &OutOfMemoryError{Name: desc.Name, Size: desc.ByteSize(), Err: err}
	case errors.Is(err, ErrOutOfHostMemory):
		return nil, &OutOfMemoryError{Name: desc.Name, Size: desc.ByteSize(), Host: true, Err: err}
	default:
		return nil, errors.Wrapf(err, "allocate %q", desc.Name)
	}
	size := a.Size()
	d.live[a] = liveAllocation{name: desc.Name, size: size}
	d.allocated += size
	d.log.Debug("allocated", "name", desc.Name, "bytes", size)
	return a, nil
}

// free is only reached through the ResourcePool deletion path, which
// guarantees no in-flight frame references a.
func (d *DeviceContext) free(a Allocation) {
	la, ok := d.live[a]
	if !ok {
		d.log.Warn("free of unknown allocation")
		return
	}
	delete(d.live, a)
	d.allocated -= la.size
	d.drv.Free(a)
}

// AllocatedBytes is the byte total of live allocations.
func (d *DeviceContext) AllocatedBytes() uint64 { return d.allocated }

// Live returns the debug names of live allocations, sorted.
func (d *DeviceContext) Live() []string {
	names := make([]string, 0, len(d.live))
	for _, la := range d.live {
		names = append(names, la.name)
	}
	sort.Strings(names)
	return names
}

func (d *DeviceContext) NewFence(signaled bool, name string) (Fence, error) {
	f, err := d.drv.NewFence(signaled, name)
	return f, errors.Wrapf(err, "fence %q", name)
}

func (d *DeviceContext) NewSemaphore(name string) (Semaphore, error) {
	s, err := d.drv.NewSemaphore(name)
	return s, errors.Wrapf(err, "semaphore %q", name)
}

func (d *DeviceContext) NewCommandBuffer(queue QueueKind, name string) (CommandBuffer, error) {
	c, err := d.drv.NewCommandBuffer(queue, name)
	return c, errors.Wrapf(err, "command buffer %q", name)
}

// Submit queues cmd. Device loss is returned unwrapped so callers can
// match ErrDeviceLost.
func (d *DeviceContext) Submit(queue QueueKind, cmd CommandBuffer, wait, signal Semaphore, fence Fence) error {
	if d.closed {
		return ErrClosed
	}
	err := d.drv.Submit(queue, cmd, wait, signal, fence)
	if err == nil || errors.Is(err, ErrDeviceLost) {
		return err
	}
	return errors.Wrapf(err, "submit to %s queue", queue)
}

// ImmediateSubmit records fn into a one-shot command buffer, submits it on
// the graphics queue and waits for completion.
func (d *DeviceContext) ImmediateSubmit(fn func(CommandRecorder)) error {
	if d.closed {
		return ErrClosed
	}
	if d.uploadCmd == nil {
		cmd, err := d.NewCommandBuffer(QueueGraphics, "Upload Command Buffer")
		if err != nil {
			return err
		}
		fence, err := d.NewFence(false, "Upload Fence")
		if err != nil {
			cmd.Destroy()
			return err
		}
		d.uploadCmd, d.uploadFence = cmd, fence
	}
	if err := d.uploadCmd.Begin(); err != nil {
		return errors.Wrap(err, "begin upload")
	}
	fn(d.uploadCmd)
	if err := d.uploadCmd.End(); err != nil {
		return errors.Wrap(err, "end upload")
	}
	if err := d.Submit(QueueGraphics, d.uploadCmd, nil, nil, d.uploadFence); err != nil {
		return err
	}
	for {
		ok, err := d.uploadFence.Wait(defaultFenceTimeout)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		d.log.Warn("upload fence wait exceeded timeout", "timeout", defaultFenceTimeout)
	}
	return errors.Wrap(d.uploadFence.Reset(), "reset upload fence")
}

func (d *DeviceContext) WaitIdle() error {
	if d.closed {
		return nil
	}
	return d.drv.WaitIdle()
}

// Destroy closes the backend. Allocations still alive are reported by
// debug name and their count is returned.
func (d *DeviceContext) Destroy() int {
	if d.closed {
		return 0
	}
	if d.uploadCmd != nil {
		d.uploadCmd.Destroy()
		d.uploadFence.Destroy()
	}
	leaked := d.Live()
	for _, name := range leaked {
		d.log.Warn("leaked allocation", "name", name, "bytes", d.sizeOf(name))
	}
	d.closed = true
	d.drv.Close()
	return len(leaked)
}

func (d *DeviceContext) sizeOf(name string) uint64 {
	for _, la := range d.live {
		if la.name == name {
			return la.size
		}
	}
	return 0
}
