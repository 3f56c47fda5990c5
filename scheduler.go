package compressor

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// skippedFrameWait is how long Run backs off after a frame was skipped
// because the surface had no area.
const skippedFrameWait = 10 * time.Millisecond

// FrameScheduler drives the per-frame cadence over N round-robin slots.
// It is driven by a single goroutine.
type FrameScheduler struct {
	dc       *DeviceContext
	sc       *SwapchainManager
	pool     *ResourcePool
	workload Workload
	overlay  Overlay
	log      *slog.Logger

	slots        []*FrameSlot
	frame        uint64
	fenceTimeout time.Duration

	// fatal terminates the scheduler; every later Tick returns it.
	fatal error

	counter  *FramerateCounter
	lastTick time.Time
	latency  time.Duration
	skipped  uint64
	cpuTime  time.Duration
	stats    FrameStats
}

// NewFrameScheduler creates one FrameSlot per pool slot and installs the
// scheduler's drain as the swapchain recreation hook.
func NewFrameScheduler(dc *DeviceContext, sc *SwapchainManager, pool *ResourcePool, w Workload, fenceTimeout time.Duration) (*FrameScheduler, error) {
	if fenceTimeout <= 0 {
		fenceTimeout = defaultFenceTimeout
	}
	s := &FrameScheduler{
		dc:           dc,
		sc:           sc,
		pool:         pool,
		workload:     w,
		log:          Logger().With("component", "scheduler"),
		fenceTimeout: fenceTimeout,
		counter:      NewFramerateCounter(),
	}
	for i := 0; i < pool.Frames(); i++ {
		slot, err := newFrameSlot(dc, i)
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.slots = append(s.slots, slot)
	}
	sc.SetDrain(s.Drain)
	return s, nil
}

// SetOverlay installs o. It composes after the workload each frame.
func (s *FrameScheduler) SetOverlay(o Overlay) { s.overlay = o }

// Frame is the index of the next frame to run.
func (s *FrameScheduler) Frame() uint64 { return s.frame }

// Slots exposes the frame slots read-only.
func (s *FrameScheduler) Slots() []*FrameSlot { return s.slots }

// Stats is the snapshot handed to the overlay on the last frame.
func (s *FrameScheduler) Stats() FrameStats { return s.stats }

// Err returns the error that terminated the scheduler, if any.
func (s *FrameScheduler) Err() error { return s.fatal }

// Lost reports whether the device was lost.
func (s *FrameScheduler) Lost() bool { return IsDeviceLost(s.fatal) }

// Run ticks until frames frames were presented, or until ctx is done when
// frames is not positive. Cancellation is not an error. Run does not poll
// window events; a windowed caller drives Tick itself.
func (s *FrameScheduler) Run(ctx context.Context, frames int) error {
	for n := 0; frames <= 0 || n < frames; {
		if ctx.Err() != nil {
			return nil
		}
		ran, err := s.tick(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		if ran {
			n++
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(skippedFrameWait):
		}
	}
	return nil
}

// Skipped counts frames skipped because the surface had no area.
func (s *FrameScheduler) Skipped() uint64 { return s.skipped }

// Tick runs one frame. A frame skipped because the surface has no area
// returns nil.
func (s *FrameScheduler) Tick(ctx context.Context) error {
	_, err := s.tick(ctx)
	return err
}

func (s *FrameScheduler) tick(ctx context.Context) (bool, error) {
	if s.fatal != nil {
		return false, s.fatal
	}
	start := time.Now()
	slot := s.slots[s.frame%uint64(len(s.slots))]

	// the only designed blocking point
	if err := s.waitSlot(ctx, slot); err != nil {
		return false, err
	}

	img, err := s.acquire(ctx, slot)
	if errors.Is(err, ErrRetry) {
		s.skipped++
		s.log.Debug("surface has no area, skipping frame", "frame", s.frame)
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		return false, s.fail(err)
	}

	res, err := s.pool.ResourcesFor(s.frame)
	if err != nil {
		return false, s.fail(errors.Wrap(err, "frame resources"))
	}
	res.Target = img

	slot.state = SlotRecording
	if err := slot.Cmd.Begin(); err != nil {
		return false, s.fail(errors.Wrap(err, "begin frame"))
	}
	s.workload.Record(slot.Cmd, res)
	stats := s.snapshot(img)
	if s.overlay != nil {
		s.overlay.Compose(slot.Cmd, stats)
	}
	slot.Cmd.PresentBarrier(img)
	if err := slot.Cmd.End(); err != nil {
		return false, s.fail(errors.Wrap(err, "end frame"))
	}

	// reset only once the acquire succeeded, so a skipped frame never
	// leaves the slot with an unsignaled fence
	if err := slot.Fence.Reset(); err != nil {
		return false, s.fail(errors.Wrap(err, "reset fence"))
	}
	slot.frame = int64(s.frame)
	if err := s.dc.Submit(QueueGraphics, slot.Cmd, slot.Acquire, slot.Present, slot.Fence); err != nil {
		return false, s.fail(err)
	}
	slot.state = SlotSubmitted
	slot.submittedAt = time.Now()

	if err := s.sc.Present(img, slot.Present); err != nil {
		return false, s.fail(errors.Wrap(err, "present"))
	}

	s.stats = stats
	s.cpuTime = time.Since(start)
	if !s.lastTick.IsZero() {
		s.counter.Update(start.Sub(s.lastTick))
	}
	s.lastTick = start
	s.frame++
	return true, nil
}

// acquire absorbs one out-of-date signal by recreating and acquiring
// again. A second ErrRetry means the surface has no area.
func (s *FrameScheduler) acquire(ctx context.Context, slot *FrameSlot) (*SwapchainImage, error) {
	img, err := s.sc.AcquireNext(ctx, slot.Acquire)
	if !errors.Is(err, ErrRetry) {
		return img, err
	}
	if err := s.sc.Recreate(ctx); err != nil {
		return nil, err
	}
	return s.sc.AcquireNext(ctx, slot.Acquire)
}

// waitSlot blocks until the slot's fence signals, then retires the frame
// the slot last ran.
func (s *FrameScheduler) waitSlot(ctx context.Context, slot *FrameSlot) error {
	for {
		ok, err := slot.Fence.Wait(s.fenceTimeout)
		if err != nil {
			return s.fail(errors.Wrapf(err, "wait fence of slot %d", slot.Index))
		}
		if ok {
			break
		}
		s.log.Warn("fence wait exceeded timeout", "slot", slot.Index, "frame", slot.frame, "timeout", s.fenceTimeout)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if slot.state == SlotSubmitted {
		s.latency = time.Since(slot.submittedAt)
		slot.state = SlotComplete
	}
	if slot.frame >= 0 {
		s.pool.Retire(uint64(slot.frame))
	}
	slot.state = SlotIdle
	return nil
}

// Drain waits on every slot's fence and retires their frames. After a
// fatal error it returns that error without waiting, since fences of a
// lost device never signal.
func (s *FrameScheduler) Drain(ctx context.Context) error {
	if s.fatal != nil {
		return s.fatal
	}
	for _, slot := range s.slots {
		if err := s.waitSlot(ctx, slot); err != nil {
			return err
		}
	}
	return nil
}

func (s *FrameScheduler) fail(err error) error {
	if errors.Is(err, ErrDeviceLost) {
		var lost *DeviceLostError
		if !errors.As(err, &lost) {
			err = &DeviceLostError{Frame: s.frame, Err: err}
		}
		s.log.Error("device lost, terminating frame loop", "frame", s.frame, "err", err)
	}
	s.fatal = err
	return err
}

func (s *FrameScheduler) snapshot(img *SwapchainImage) FrameStats {
	ps := s.pool.Stats()
	return FrameStats{
		Frame:            s.frame,
		FrameLatency:     s.latency,
		CPUTime:          s.cpuTime,
		AverageFrameTime: s.counter.Average(),
		FPS:              s.counter.FPS(),
		Resources:        ps.Resources,
		Allocations:      ps.Allocations,
		AllocatedBytes:   ps.AllocatedBytes,
		Recreations:      s.sc.Recreations(),
		PresentedView:    img.View,
	}
}

// Destroy releases the slots. Callers drain first.
func (s *FrameScheduler) Destroy() {
	for _, slot := range s.slots {
		slot.destroy()
	}
	s.slots = nil
	if s.fatal == nil {
		s.fatal = ErrClosed
	}
}
