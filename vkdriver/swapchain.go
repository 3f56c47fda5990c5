package vkdriver

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
)

// Presenter owns the swapchain for the driver's surface.
type Presenter struct {
	d   *Driver
	log *slog.Logger

	swapchain vk.Swapchain
	format    vk.SurfaceFormat
	extent    vk.Extent2D
	images    []vk.Image
	views     []vk.ImageView

	// the last acquire returned a suboptimal image
	suboptimal bool
}

var _ compressor.Presenter = (*Presenter)(nil)

// NewPresenter creates a presenter for d's surface. The swapchain itself is
// built by the first Configure.
func NewPresenter(d *Driver) (*Presenter, error) {
	if d.surface == vk.NullSurface {
		return nil, errors.New("vulkan: presenter needs a surface, device was opened headless")
	}
	return &Presenter{d: d, log: compressor.Logger().With("component", "presenter")}, nil
}

// chooseFormat prefers 8-bit BGRA UNORM and falls back to the first format
// the surface reports.
func chooseFormat(formats []vk.SurfaceFormat) (vk.SurfaceFormat, bool) {
	if len(formats) == 0 {
		return vk.SurfaceFormat{}, false
	}
	for i := range formats {
		formats[i].Deref()
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		f := formats[0]
		f.Format = vk.FormatB8g8r8a8Unorm
		return f, true
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm {
			return f, true
		}
	}
	return formats[0], true
}

// chooseExtent uses the surface's current extent unless the window system
// lets the swapchain pick, in which case want is clamped to the limits.
func chooseExtent(caps vk.SurfaceCapabilities, want compressor.Extent) vk.Extent2D {
	if caps.CurrentExtent.Width != vk.MaxUint32 {
		return caps.CurrentExtent
	}
	clamp := func(v, lo, hi uint32) uint32 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return vk.Extent2D{
		Width:  clamp(want.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(want.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func chooseImageCount(caps vk.SurfaceCapabilities, want uint32) uint32 {
	if want < caps.MinImageCount {
		want = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && want > caps.MaxImageCount {
		want = caps.MaxImageCount
	}
	return want
}

// Configure creates the swapchain, passing the previous one as
// OldSwapchain, and rebuilds the image views.
func (p *Presenter) Configure(cfg compressor.SwapchainConfig) ([]compressor.SwapchainImage, error) {
	d := p.d
	var caps vk.SurfaceCapabilities
	if ret := vk.GetPhysicalDeviceSurfaceCapabilities(d.gpu, d.surface, &caps); isError(ret) {
		return nil, newError(ret)
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	extent := chooseExtent(caps, cfg.Extent)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, errors.Wrap(compressor.ErrRetry, "surface has no area")
	}

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(d.gpu, d.surface, &formatCount, nil)
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(d.gpu, d.surface, &formatCount, formats)
	format, ok := chooseFormat(formats)
	if !ok {
		return nil, errors.New("vulkan: surface reports no color formats")
	}

	// FIFO is always supported
	mode := vk.PresentModeFifo
	want := presentMode(cfg.PresentMode)
	var modeCount uint32
	vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, d.surface, &modeCount, nil)
	modes := make([]vk.PresentMode, modeCount)
	vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, d.surface, &modeCount, modes)
	for _, m := range modes {
		if m == want {
			mode = want
		}
	}
	if mode != want {
		p.log.Warn("present mode unsupported, using fifo", "mode", cfg.PresentMode)
	}

	preTransform := vk.SurfaceTransformIdentityBit
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&preTransform == 0 {
		preTransform = caps.CurrentTransform
	}

	// one of these is guaranteed to be supported
	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    chooseImageCount(caps, cfg.ImageCount),
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     preTransform,
		CompositeAlpha:   compositeAlpha,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		PresentMode:      mode,
		OldSwapchain:     p.swapchain,
		Clipped:          vk.True,
	}
	graphics := d.families[compressor.QueueGraphics]
	if graphics != d.presentFamily {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{graphics, d.presentFamily}
	}

	var swapchain vk.Swapchain
	if ret := vk.CreateSwapchain(d.device, &info, nil, &swapchain); isError(ret) {
		return nil, newError(ret)
	}
	p.destroyViews()
	if p.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(d.device, p.swapchain, nil)
	}
	p.swapchain = swapchain
	p.format = format
	p.extent = extent
	p.suboptimal = false

	var imageCount uint32
	vk.GetSwapchainImages(d.device, p.swapchain, &imageCount, nil)
	p.images = make([]vk.Image, imageCount)
	if ret := vk.GetSwapchainImages(d.device, p.swapchain, &imageCount, p.images); isError(ret) {
		return nil, newError(ret)
	}

	out := make([]compressor.SwapchainImage, imageCount)
	p.views = make([]vk.ImageView, 0, imageCount)
	for i, img := range p.images {
		view, err := d.createView(img, format.Format)
		if err != nil {
			return nil, err
		}
		p.views = append(p.views, view)
		out[i] = compressor.SwapchainImage{
			Index:  uint32(i),
			Image:  img,
			View:   view,
			Extent: compressor.Extent{Width: extent.Width, Height: extent.Height},
			Format: coreFormat(format.Format),
		}
	}
	p.log.Debug("swapchain configured", "images", imageCount, "width", extent.Width,
		"height", extent.Height, "present_mode", mode)
	return out, nil
}

// Acquire maps out-of-date surfaces to ErrSwapchainOutOfDate. A suboptimal
// image is still returned; the following Present reports it.
func (p *Presenter) Acquire(signal compressor.Semaphore, timeout time.Duration) (uint32, error) {
	var idx uint32
	ret := vk.AcquireNextImage(p.d.device, p.swapchain, uint64(timeout.Nanoseconds()),
		semaphoreHandle(signal), vk.NullFence, &idx)
	switch ret {
	case vk.Success:
		return idx, nil
	case vk.Suboptimal:
		p.suboptimal = true
		return idx, nil
	}
	return 0, newError(ret)
}

func (p *Presenter) Present(index uint32, wait compressor.Semaphore) error {
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{p.swapchain},
		PImageIndices:  []uint32{index},
	}
	if s := semaphoreHandle(wait); s != vk.NullSemaphore {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{s}
	}
	q := p.d.queues[p.d.presentFamily]
	ret := vk.QueuePresent(q, &info)
	if ret == vk.Success && p.suboptimal {
		return compressor.ErrSwapchainOutOfDate
	}
	return newError(ret)
}

func (p *Presenter) destroyViews() {
	for _, v := range p.views {
		vk.DestroyImageView(p.d.device, v, nil)
	}
	p.views = nil
	p.images = nil
}

func (p *Presenter) Destroy() {
	if p.d.device == nil {
		return
	}
	p.destroyViews()
	if p.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(p.d.device, p.swapchain, nil)
		p.swapchain = vk.NullSwapchain
	}
}
