package compressor

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestFramerateCounterAveragesWindow(t *testing.T) {
	c := NewFramerateCounter()
	for i := 0; i < 9; i++ {
		c.Update(10 * time.Millisecond)
	}
	if c.Average() != 0 {
		t.Errorf("average before window closed = %s", c.Average())
	}
	c.Update(10 * time.Millisecond)
	if c.Average() != 10*time.Millisecond {
		t.Errorf("average = %s, want 10ms", c.Average())
	}
	if fps := c.FPS(); fps < 99.9 || fps > 100.1 {
		t.Errorf("fps = %f, want 100", fps)
	}
	c.Update(50 * time.Millisecond)
	c.Update(70 * time.Millisecond)
	if c.Average() != 60*time.Millisecond {
		t.Errorf("average = %s, want 60ms", c.Average())
	}
}

func TestStatsLoggerEvery(t *testing.T) {
	var buf bytes.Buffer
	s := &StatsLogger{Every: 3, Log: slog.New(slog.NewTextHandler(&buf, nil))}
	for f := uint64(0); f < 7; f++ {
		s.Compose(nil, FrameStats{Frame: f})
	}
	if n := strings.Count(buf.String(), "frame stats"); n != 3 {
		t.Errorf("logged %d times, want 3 (frames 0, 3, 6)", n)
	}
}

func TestSetLoggerNilRestoresSilence(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	Logger().Info("hello")
	SetLogger(nil)
	Logger().Info("dropped")
	if !strings.Contains(buf.String(), "hello") || strings.Contains(buf.String(), "dropped") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestErrorsUnwrap(t *testing.T) {
	lost := &DeviceLostError{Frame: 7, Err: ErrDeviceLost}
	if !IsDeviceLost(lost) {
		t.Error("IsDeviceLost false for DeviceLostError")
	}
	oom := &OutOfMemoryError{Name: "x", Size: 4, Host: true, Err: ErrOutOfHostMemory}
	if !strings.Contains(oom.Error(), "host") {
		t.Errorf("oom message %q", oom.Error())
	}
	ie := &DeviceInitError{Missing: []string{"VK_KHR_swapchain"}, Err: ErrNoDevice}
	if !strings.Contains(ie.Error(), "VK_KHR_swapchain") || ie.Unwrap() != ErrNoDevice {
		t.Errorf("init error %q", ie.Error())
	}
}
