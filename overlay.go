package compressor

import (
	"log/slog"
	"time"
)

// FrameStats is the read-only per-frame view handed to overlays.
type FrameStats struct {
	Frame uint64
	// FrameLatency is the time from a frame's submission until its slot
	// was next waited on, frames-in-flight frames later. It includes queue
	// time and is not the GPU execution time.
	FrameLatency     time.Duration
	CPUTime          time.Duration
	AverageFrameTime time.Duration
	FPS              float64
	Resources        int
	Allocations      int
	AllocatedBytes   uint64
	Recreations      int
	// PresentedView is the backend view handle of this frame's image.
	PresentedView any
}

// Overlay composes into the frame after the workload, for example an
// immediate-mode UI.
type Overlay interface {
	Compose(rec CommandRecorder, stats FrameStats)
}

// StatsLogger is an overlay that records nothing and logs stats every
// Every frames.
type StatsLogger struct {
	Every int
	Log   *slog.Logger
}

func (s *StatsLogger) Compose(_ CommandRecorder, st FrameStats) {
	if s.Every <= 0 || st.Frame%uint64(s.Every) != 0 {
		return
	}
	l := s.Log
	if l == nil {
		l = Logger()
	}
	l.Info("frame stats",
		"frame", st.Frame,
		"latency", st.FrameLatency,
		"cpu_time", st.CPUTime,
		"avg_frame", st.AverageFrameTime,
		"fps", st.FPS,
		"resources", st.Resources,
		"bytes", st.AllocatedBytes,
		"recreations", st.Recreations,
	)
}

// FramerateCounter averages frame time over a sliding window.
type FramerateCounter struct {
	Window time.Duration

	elapsed time.Duration
	frames  int
	average time.Duration
}

// NewFramerateCounter averages over 100ms windows.
func NewFramerateCounter() *FramerateCounter {
	return &FramerateCounter{Window: 100 * time.Millisecond}
}

// Update adds one frame of duration dt.
func (c *FramerateCounter) Update(dt time.Duration) {
	c.elapsed += dt
	c.frames++
	if c.elapsed >= c.Window {
		c.average = c.elapsed / time.Duration(c.frames)
		c.elapsed = 0
		c.frames = 0
	}
}

// Average is the mean frame time of the last complete window.
func (c *FramerateCounter) Average() time.Duration { return c.average }

// FPS derives frames per second from Average.
func (c *FramerateCounter) FPS() float64 {
	if c.average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(c.average)
}
