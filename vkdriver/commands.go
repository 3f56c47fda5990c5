package vkdriver

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
)

// acquireWaitStage is where submissions wait for the acquire semaphore and
// where first-use image barriers begin.
var acquireWaitStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit | vk.PipelineStageColorAttachmentOutputBit)

var colorRange = vk.ImageSubresourceRange{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LevelCount: 1,
	LayerCount: 1,
}

// commandPool returns the pool for family, creating it on first use.
// Buffers from it can be reset individually.
func (d *Driver) commandPool(family uint32) (vk.CommandPool, error) {
	if pool, ok := d.cmdPools[family]; ok {
		return pool, nil
	}
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if isError(ret) {
		return vk.NullCommandPool, newError(ret)
	}
	d.cmdPools[family] = pool
	return pool, nil
}

// commandBuffer records transfer work and tracks the layout of every
// swapchain image it touches.
type commandBuffer struct {
	device vk.Device
	pool   vk.CommandPool
	handle vk.CommandBuffer
	name   string

	layouts map[vk.Image]vk.ImageLayout
	// a transfer was recorded since the last barrier
	dirty bool
}

var _ compressor.CommandBuffer = (*commandBuffer)(nil)

func (d *Driver) NewCommandBuffer(queue compressor.QueueKind, name string) (compressor.CommandBuffer, error) {
	_, family := d.queue(queue)
	pool, err := d.commandPool(family)
	if err != nil {
		return nil, err
	}
	bufs := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(d.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs)
	if isError(ret) {
		return nil, newError(ret)
	}
	d.nameObject(vk.DebugReportObjectTypeCommandBuffer, handleOf(unsafe.Pointer(bufs[0])), name)
	return &commandBuffer{
		device:  d.device,
		pool:    pool,
		handle:  bufs[0],
		name:    name,
		layouts: make(map[vk.Image]vk.ImageLayout),
	}, nil
}

func (c *commandBuffer) Begin() error {
	if ret := vk.ResetCommandBuffer(c.handle, 0); isError(ret) {
		return newError(ret)
	}
	for img := range c.layouts {
		delete(c.layouts, img)
	}
	c.dirty = false
	ret := vk.BeginCommandBuffer(c.handle, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	return newError(ret)
}

func (c *commandBuffer) End() error {
	return newError(vk.EndCommandBuffer(c.handle))
}

func (c *commandBuffer) Destroy() {
	if c.handle != nil {
		vk.FreeCommandBuffers(c.device, c.pool, 1, []vk.CommandBuffer{c.handle})
		c.handle = nil
	}
}

func (c *commandBuffer) String() string { return c.name }

// transferBarrier orders the previous transfer writes before the next
// transfer.
func (c *commandBuffer) transferBarrier() {
	if !c.dirty {
		return
	}
	vk.CmdPipelineBarrier(c.handle,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0,
		1, []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessTransferReadBit | vk.AccessTransferWriteBit),
		}},
		0, nil,
		0, nil)
	c.dirty = false
}

// transition moves img to layout.
func (c *commandBuffer) transition(img vk.Image, layout vk.ImageLayout) {
	old, seen := c.layouts[img]
	if seen && old == layout && layout != vk.ImageLayoutTransferDstOptimal {
		return
	}
	barrier, srcStage, dstStage := layoutBarrier(img, old, seen, layout)
	vk.CmdPipelineBarrier(c.handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	c.layouts[img] = layout
}

// layoutBarrier builds the barrier moving img from old to layout. Images
// not seen earlier in the recording start undefined since every frame
// rewrites its target. Their barrier starts at acquireWaitStage, so the
// layout change is ordered after the presentation engine releases the
// image.
func layoutBarrier(img vk.Image, old vk.ImageLayout, seen bool, layout vk.ImageLayout) (vk.ImageMemoryBarrier, vk.PipelineStageFlags, vk.PipelineStageFlags) {
	if !seen {
		old = vk.ImageLayoutUndefined
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           old,
		NewLayout:           layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange:    colorRange,
	}
	srcStage := acquireWaitStage
	if seen {
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	dstStage := vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	switch layout {
	case vk.ImageLayoutTransferDstOptimal:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
	case vk.ImageLayoutPresentSrc:
		dstStage = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	return barrier, srcStage, dstStage
}

func (c *commandBuffer) ClearColor(target *compressor.SwapchainImage, rgba [4]float32) {
	img := target.Image.(vk.Image)
	c.transferBarrier()
	c.transition(img, vk.ImageLayoutTransferDstOptimal)

	var color vk.ClearColorValue
	floats := (*[4]float32)(unsafe.Pointer(&color))
	*floats = rgba
	vk.CmdClearColorImage(c.handle, img, vk.ImageLayoutTransferDstOptimal, &color,
		1, []vk.ImageSubresourceRange{colorRange})
	c.dirty = true
}

func (c *commandBuffer) FillBuffer(dst *compressor.GpuResource, offset, size uint64, value uint32) {
	c.transferBarrier()
	vk.CmdFillBuffer(c.handle, mustBuffer(dst), vk.DeviceSize(offset), vk.DeviceSize(size), value)
	c.dirty = true
}

func (c *commandBuffer) CopyBuffer(src, dst *compressor.GpuResource, size uint64) {
	c.transferBarrier()
	vk.CmdCopyBuffer(c.handle, mustBuffer(src), mustBuffer(dst), 1, []vk.BufferCopy{{
		Size: vk.DeviceSize(size),
	}})
	c.dirty = true
}

func (c *commandBuffer) CopyBufferToImage(src *compressor.GpuResource, target *compressor.SwapchainImage) {
	img := target.Image.(vk.Image)
	c.transferBarrier()
	c.transition(img, vk.ImageLayoutTransferDstOptimal)
	vk.CmdCopyBufferToImage(c.handle, mustBuffer(src), img, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: target.Extent.Width, Height: target.Extent.Height, Depth: 1},
	}})
	c.dirty = true
}

func (c *commandBuffer) PresentBarrier(target *compressor.SwapchainImage) {
	c.transition(target.Image.(vk.Image), vk.ImageLayoutPresentSrc)
}

func mustBuffer(r *compressor.GpuResource) vk.Buffer {
	a, ok := r.Allocation.(*allocation)
	if !ok || a.buffer == vk.NullBuffer {
		panic(errors.Errorf("resource %q is not a Vulkan buffer", r.Name))
	}
	return a.buffer
}

// Submit queues cmd on the queue for kind.
func (d *Driver) Submit(kind compressor.QueueKind, cmd compressor.CommandBuffer,
	wait, signal compressor.Semaphore, f compressor.Fence) error {

	cb, ok := cmd.(*commandBuffer)
	if !ok {
		return errors.Errorf("foreign command buffer %T", cmd)
	}
	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.handle},
	}
	if s := semaphoreHandle(wait); s != vk.NullSemaphore {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{s}
		info.PWaitDstStageMask = []vk.PipelineStageFlags{
			acquireWaitStage,
		}
	}
	if s := semaphoreHandle(signal); s != vk.NullSemaphore {
		info.SignalSemaphoreCount = 1
		info.PSignalSemaphores = []vk.Semaphore{s}
	}
	q, _ := d.queue(kind)
	return newError(vk.QueueSubmit(q, 1, []vk.SubmitInfo{info}, fenceHandle(f)))
}
