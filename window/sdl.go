package window

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/veandco/go-sdl2/sdl"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
)

type sdlWindow struct {
	window   *sdl.Window
	onResize func(width, height int)
	closed   bool
}

func openSDL(cfg compressor.WindowConfig) (Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "sdl init")
	}
	window, err := sdl.CreateWindow(cfg.Title,
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.Width), int32(cfg.Height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE|sdl.WINDOW_VULKAN)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "sdl create window")
	}
	return &sdlWindow{window: window}, nil
}

func (w *sdlWindow) InstanceExtensions() []string {
	return w.window.VulkanGetInstanceExtensions()
}

func (w *sdlWindow) ProcAddr() unsafe.Pointer {
	return sdl.VulkanGetVkGetInstanceProcAddr()
}

func (w *sdlWindow) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	ptr, err := w.window.VulkanCreateSurface(instance)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "sdl create vulkan surface")
	}
	return vk.SurfaceFromPointer(uintptr(ptr)), nil
}

func (w *sdlWindow) FramebufferSize() (int, int) {
	if w.window.GetFlags()&sdl.WINDOW_MINIMIZED != 0 {
		return 0, 0
	}
	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

func (w *sdlWindow) OnResize(fn func(width, height int)) { w.onResize = fn }

func (w *sdlWindow) PollEvents() {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch ev := event.(type) {
		case *sdl.QuitEvent:
			w.closed = true
		case *sdl.WindowEvent:
			switch ev.Event {
			case sdl.WINDOWEVENT_SIZE_CHANGED, sdl.WINDOWEVENT_MINIMIZED, sdl.WINDOWEVENT_RESTORED:
				if w.onResize != nil {
					w.onResize(w.FramebufferSize())
				}
			case sdl.WINDOWEVENT_CLOSE:
				w.closed = true
			}
		}
	}
}

func (w *sdlWindow) ShouldClose() bool { return w.closed }

func (w *sdlWindow) Destroy() {
	w.window.Destroy()
	sdl.Quit()
}
