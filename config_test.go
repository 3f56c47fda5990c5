package compressor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Frames.InFlight != 2 {
		t.Errorf("in_flight = %d, want 2", cfg.Frames.InFlight)
	}
	if cfg.Frames.FenceTimeout != time.Second {
		t.Errorf("fence_timeout = %s, want 1s", cfg.Frames.FenceTimeout)
	}
}

func TestParseConfigOverlaysDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
app_name: viewer
window:
  backend: sdl
frames:
  in_flight: 3
  fence_timeout: 250ms
  present_mode: mailbox
workload:
  name: passthrough
  params:
    block: 8
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AppName != "viewer" || cfg.Window.Backend != "sdl" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Window.Width != 1280 {
		t.Errorf("default width lost: %d", cfg.Window.Width)
	}
	if cfg.Frames.InFlight != 3 || cfg.Frames.FenceTimeout != 250*time.Millisecond {
		t.Errorf("frames = %+v", cfg.Frames)
	}
	if cfg.Frames.AcquireTimeout != time.Second {
		t.Errorf("acquire_timeout = %s", cfg.Frames.AcquireTimeout)
	}
	if m, _ := cfg.PresentMode(); m != PresentMailbox {
		t.Errorf("present mode = %v", m)
	}
	if cfg.Workload.Params["block"] != 8 {
		t.Errorf("params = %v", cfg.Workload.Params)
	}
}

func TestParseConfigRejects(t *testing.T) {
	tests := map[string]string{
		"in_flight":    "frames: {in_flight: 5}",
		"zero frames":  "frames: {in_flight: 0}",
		"timeout":      "frames: {fence_timeout: -1s}",
		"present mode": "frames: {present_mode: vsync}",
		"backend":      "window: {backend: wayland}",
		"size":         "window: {width: 0}",
		"workload":     "workload: {name: ''}",
		"yaml":         "frames: [",
	}
	for name, doc := range tests {
		if _, err := ParseConfig([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compressor.yaml")
	if err := os.WriteFile(path, []byte("frames:\n  in_flight: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Frames.InFlight != 1 {
		t.Errorf("in_flight = %d", cfg.Frames.InFlight)
	}
	if _, err := LoadConfig(path + ".missing"); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("missing file error = %v", err)
	}
}

func TestRequirementsFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.Validation = true
	cfg.Device.Extensions = []string{"VK_EXT_memory_budget"}
	req := cfg.Requirements()
	if !req.Validation || req.AppName != cfg.AppName || len(req.Extensions) != 1 {
		t.Errorf("requirements = %+v", req)
	}
}
