package compressor

import (
	"fmt"
	"time"
)

// SlotState tracks a FrameSlot through one frame.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotRecording
	SlotSubmitted
	SlotComplete
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	case SlotComplete:
		return "complete"
	}
	return "unknown"
}

// FrameSlot holds the per-frame command buffer and sync objects. Slots are
// recycled round-robin and destroyed only at shutdown.
type FrameSlot struct {
	Index   int
	Cmd     CommandBuffer
	Fence   Fence
	Acquire Semaphore
	Present Semaphore

	state SlotState
	// frame is the last frame recorded into the slot, or -1.
	frame       int64
	submittedAt time.Time
}

func (s *FrameSlot) State() SlotState { return s.state }

// Frame is the last frame index run in the slot, or -1.
func (s *FrameSlot) Frame() int64 { return s.frame }

func newFrameSlot(dc *DeviceContext, i int) (*FrameSlot, error) {
	s := &FrameSlot{Index: i, frame: -1}
	var err error
	defer func() {
		if err != nil {
			s.destroy()
		}
	}()
	// created signaled so the first wait on each slot returns immediately
	if s.Fence, err = dc.NewFence(true, fmt.Sprintf("Render Fence %d", i)); err != nil {
		return nil, err
	}
	if s.Acquire, err = dc.NewSemaphore(fmt.Sprintf("Acquire Semaphore %d", i)); err != nil {
		return nil, err
	}
	if s.Present, err = dc.NewSemaphore(fmt.Sprintf("Present Semaphore %d", i)); err != nil {
		return nil, err
	}
	if s.Cmd, err = dc.NewCommandBuffer(QueueGraphics, fmt.Sprintf("Frame Command Buffer %d", i)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FrameSlot) destroy() {
	if s.Cmd != nil {
		s.Cmd.Destroy()
		s.Cmd = nil
	}
	if s.Present != nil {
		s.Present.Destroy()
		s.Present = nil
	}
	if s.Acquire != nil {
		s.Acquire.Destroy()
		s.Acquire = nil
	}
	if s.Fence != nil {
		s.Fence.Destroy()
		s.Fence = nil
	}
}
