package compressor

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultFramesInFlight = 2
	maxFramesInFlight     = 4
	defaultFenceTimeout   = time.Second
	defaultBlockSize      = 64 << 20
)

// Config is the startup configuration. Zero values are replaced by
// defaults in ParseConfig and LoadConfig.
type Config struct {
	AppName  string         `yaml:"app_name"`
	Window   WindowConfig   `yaml:"window"`
	Device   DeviceConfig   `yaml:"device"`
	Frames   FramesConfig   `yaml:"frames"`
	Memory   MemoryConfig   `yaml:"memory"`
	Workload WorkloadConfig `yaml:"workload"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Log      LogConfig      `yaml:"log"`
}

type WindowConfig struct {
	// Backend is "glfw" or "sdl".
	Backend string `yaml:"backend"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Title   string `yaml:"title"`
}

type DeviceConfig struct {
	Validation     bool     `yaml:"validation"`
	PreferDiscrete bool     `yaml:"prefer_discrete"`
	Extensions     []string `yaml:"extensions"`
	Features       []string `yaml:"features"`
}

type FramesConfig struct {
	InFlight       int           `yaml:"in_flight"`
	FenceTimeout   time.Duration `yaml:"fence_timeout"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	// PresentMode is "fifo", "mailbox" or "immediate".
	PresentMode string `yaml:"present_mode"`
}

type MemoryConfig struct {
	BlockSize uint64 `yaml:"block_size"`
}

type WorkloadConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

type OverlayConfig struct {
	// StatsEvery logs frame statistics every n frames. Zero disables it.
	StatsEvery int `yaml:"stats_every"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		AppName: "CompressorRecipe",
		Window: WindowConfig{
			Backend: "glfw",
			Width:   1280,
			Height:  720,
			Title:   "CompressorRecipe",
		},
		Frames: FramesConfig{
			InFlight:       defaultFramesInFlight,
			FenceTimeout:   defaultFenceTimeout,
			AcquireTimeout: defaultFenceTimeout,
			PresentMode:    "fifo",
		},
		Memory:   MemoryConfig{BlockSize: defaultBlockSize},
		Workload: WorkloadConfig{Name: "clear"},
		Overlay:  OverlayConfig{StatsEvery: 120},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return ParseConfig(data)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Frames.InFlight < 1 || c.Frames.InFlight > maxFramesInFlight {
		return errors.Errorf("frames.in_flight must be in [1, %d], got %d", maxFramesInFlight, c.Frames.InFlight)
	}
	if c.Frames.FenceTimeout <= 0 {
		return errors.Errorf("frames.fence_timeout must be positive, got %s", c.Frames.FenceTimeout)
	}
	if c.Frames.AcquireTimeout <= 0 {
		return errors.Errorf("frames.acquire_timeout must be positive, got %s", c.Frames.AcquireTimeout)
	}
	if _, err := c.PresentMode(); err != nil {
		return err
	}
	switch strings.ToLower(c.Window.Backend) {
	case "glfw", "sdl":
	default:
		return errors.Errorf("window.backend must be glfw or sdl, got %q", c.Window.Backend)
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Errorf("window size must be positive, got %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Memory.BlockSize == 0 {
		return errors.New("memory.block_size must be nonzero")
	}
	if c.Workload.Name == "" {
		return errors.New("workload.name is required")
	}
	if c.Overlay.StatsEvery < 0 {
		return errors.New("overlay.stats_every must not be negative")
	}
	return nil
}

// PresentMode parses Frames.PresentMode.
func (c *Config) PresentMode() (PresentMode, error) {
	switch strings.ToLower(c.Frames.PresentMode) {
	case "", "fifo":
		return PresentFIFO, nil
	case "mailbox":
		return PresentMailbox, nil
	case "immediate":
		return PresentImmediate, nil
	}
	return PresentFIFO, errors.Errorf("frames.present_mode %q is not fifo, mailbox or immediate", c.Frames.PresentMode)
}

// Requirements derives device requirements from the device section.
func (c *Config) Requirements() Requirements {
	return Requirements{
		AppName:        c.AppName,
		Extensions:     c.Device.Extensions,
		Features:       c.Device.Features,
		Validation:     c.Device.Validation,
		PreferDiscrete: c.Device.PreferDiscrete,
	}
}
