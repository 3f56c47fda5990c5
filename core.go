package compressor

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// Backend bundles the device and presentation seams Core is built on.
type Backend struct {
	Driver    Driver
	Presenter func(dc *DeviceContext) (Presenter, error)
	// Extent is the initial surface size.
	Extent Extent
}

// Core wires the components together and tears them down in reverse
// creation order: workload, resource pool, swapchain, device.
type Core struct {
	cfg *Config
	log *slog.Logger

	Device    *DeviceContext
	Swapchain *SwapchainManager
	Pool      *ResourcePool
	Scheduler *FrameScheduler
	Workload  Workload
	Resources ResourceSet

	closed bool
	// device loss seen before the scheduler existed
	lost bool
}

// NewCore creates the device, swapchain, pool and scheduler, registers the
// workload's resources and runs its one-time initialization.
func NewCore(b Backend, w Workload, cfg *Config) (*Core, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Core{cfg: cfg, log: Logger().With("component", "core"), Workload: w}
	if err := c.build(b, w); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Core) build(b Backend, w Workload) (err error) {
	cfg := c.cfg

	if c.Device, err = NewDeviceContext(b.Driver, cfg.Requirements()); err != nil {
		return err
	}

	presenter, err := b.Presenter(c.Device)
	if err != nil {
		return errors.Wrap(err, "create presenter")
	}
	mode, _ := cfg.PresentMode()
	scCfg := SwapchainConfig{
		Extent:      b.Extent,
		ImageCount:  uint32(cfg.Frames.InFlight + 1),
		PresentMode: mode,
	}
	if c.Swapchain, err = NewSwapchainManager(presenter, scCfg, cfg.Frames.AcquireTimeout); err != nil {
		presenter.Destroy()
		return err
	}

	c.Pool = NewResourcePool(c.Device, cfg.Frames.InFlight)
	if c.Resources, err = c.Pool.Register(w.Descriptor()); err != nil {
		return errors.Wrapf(err, "register workload %q", w.Name())
	}
	if in, ok := w.(Initializer); ok {
		if err = c.initialize(in); err != nil {
			return err
		}
	}

	if c.Scheduler, err = NewFrameScheduler(c.Device, c.Swapchain, c.Pool, w, cfg.Frames.FenceTimeout); err != nil {
		return err
	}
	if cfg.Overlay.StatsEvery > 0 {
		c.Scheduler.SetOverlay(&StatsLogger{Every: cfg.Overlay.StatsEvery})
	}
	return nil
}

// initialize hands the workload its shared resources in an immediate
// submission, before any frame references them.
func (c *Core) initialize(in Initializer) error {
	shared := FrameResources{
		byID:   make([]*GpuResource, len(c.Pool.entries)),
		byName: c.Pool.byName,
	}
	for id, e := range c.Pool.entries {
		if e.spec.Lifetime == Shared && !e.released {
			shared.byID[id] = e.copies[0]
		}
	}
	err := c.Device.ImmediateSubmit(func(rec CommandRecorder) {
		in.Initialize(rec, shared)
	})
	if IsDeviceLost(err) {
		c.lost = true
		err = &DeviceLostError{Err: err}
	}
	return errors.Wrapf(err, "initialize workload %q", c.Workload.Name())
}

// Run runs frames frames, or until ctx is done when frames is not positive.
func (c *Core) Run(ctx context.Context, frames int) error {
	if c.closed {
		return ErrClosed
	}
	return c.Scheduler.Run(ctx, frames)
}

// Tick runs a single frame.
func (c *Core) Tick(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	return c.Scheduler.Tick(ctx)
}

// Resized forwards window resize notifications to the swapchain.
func (c *Core) Resized(width, height int) {
	if c.Swapchain != nil {
		c.Swapchain.NotifyResized(width, height)
	}
}

// Close drains every in-flight frame and destroys the components in
// reverse creation order. After device loss nothing is freed: the fences
// will never signal and the leak report names what was abandoned.
func (c *Core) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	lost := c.lost || (c.Scheduler != nil && c.Scheduler.Lost())
	var firstErr error
	if c.Scheduler != nil {
		if !lost {
			if err := c.Scheduler.Drain(context.Background()); err != nil {
				lost = IsDeviceLost(err)
				firstErr = err
			}
		}
		c.Scheduler.Destroy()
	}

	if d, ok := c.Workload.(Destroyer); ok {
		d.Destroy()
	}
	if c.Pool != nil && !lost {
		if err := c.Pool.Destroy(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "destroy resource pool")
		}
	}
	if c.Swapchain != nil {
		c.Swapchain.Destroy()
	}
	if c.Device != nil {
		if n := c.Device.Destroy(); n > 0 && !lost {
			c.log.Warn("allocations leaked at shutdown", "count", n)
		}
	}
	return firstErr
}
