package window

import (
	"testing"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
)

type stubWindow struct {
	width, height int
	surfaces      int
}

func (s *stubWindow) InstanceExtensions() []string { return []string{"VK_KHR_surface"} }
func (s *stubWindow) ProcAddr() unsafe.Pointer     { return nil }
func (s *stubWindow) CreateSurface(vk.Instance) (vk.Surface, error) {
	s.surfaces++
	return vk.NullSurface, nil
}
func (s *stubWindow) FramebufferSize() (int, int)      { return s.width, s.height }
func (s *stubWindow) OnResize(func(width, height int)) {}
func (s *stubWindow) PollEvents()                      {}
func (s *stubWindow) ShouldClose() bool                { return false }
func (s *stubWindow) Destroy()                         {}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(compressor.WindowConfig{Backend: "wayland-direct"}); err == nil {
		t.Fatal("unknown backend accepted")
	}
}

func TestBackendExtent(t *testing.T) {
	b, drv := Backend(&stubWindow{width: 800, height: 600}, 1<<20)
	if drv == nil || b.Driver == nil || b.Presenter == nil {
		t.Fatalf("backend = %+v", b)
	}
	if b.Extent != (compressor.Extent{Width: 800, Height: 600}) {
		t.Errorf("extent = %+v", b.Extent)
	}
	b, _ = Backend(&stubWindow{width: -1, height: 0}, 0)
	if !b.Extent.Empty() {
		t.Errorf("minimized extent = %+v", b.Extent)
	}
	// the driver was never opened, so there is no surface to present to
	if _, err := b.Presenter(nil); err == nil {
		t.Error("presenter created without a surface")
	}
}
