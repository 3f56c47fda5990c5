// Package window opens the native window the swapchain presents to. Both
// backends must be used from the main OS thread.
package window

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
	"github.com/andewx/compressor/vkdriver"
)

// Window is a native window with a Vulkan surface.
type Window interface {
	// InstanceExtensions lists the instance extensions the surface needs.
	InstanceExtensions() []string
	// ProcAddr is vkGetInstanceProcAddr as loaded by the window library.
	ProcAddr() unsafe.Pointer
	CreateSurface(instance vk.Instance) (vk.Surface, error)
	// FramebufferSize is the drawable size in pixels. It is zero while the
	// window is minimized.
	FramebufferSize() (width, height int)
	// OnResize registers fn for framebuffer size changes. It is called from
	// PollEvents.
	OnResize(fn func(width, height int))
	PollEvents()
	ShouldClose() bool
	Destroy()
}

// Open creates a window for the configured backend.
func Open(cfg compressor.WindowConfig) (Window, error) {
	switch cfg.Backend {
	case "", "glfw":
		return openGLFW(cfg)
	case "sdl":
		return openSDL(cfg)
	}
	return nil, errors.Errorf("unknown window backend %q", cfg.Backend)
}

// Backend wires w into a Vulkan driver and presenter.
func Backend(w Window, blockSize uint64) (compressor.Backend, *vkdriver.Driver) {
	drv := vkdriver.New(vkdriver.Options{
		ProcAddr:           w.ProcAddr(),
		InstanceExtensions: w.InstanceExtensions(),
		Surface:            w.CreateSurface,
		BlockSize:          blockSize,
	})
	width, height := w.FramebufferSize()
	return compressor.Backend{
		Driver: drv,
		Presenter: func(*compressor.DeviceContext) (compressor.Presenter, error) {
			p, err := vkdriver.NewPresenter(drv)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		Extent: compressor.Extent{Width: uint32(max(width, 0)), Height: uint32(max(height, 0))},
	}, drv
}
