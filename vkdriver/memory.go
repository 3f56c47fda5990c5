package vkdriver

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
	"github.com/andewx/compressor/memory"
)

// deviceBlock is one vkAllocateMemory call. Host visible blocks stay mapped
// for their whole lifetime.
type deviceBlock struct {
	mem  vk.DeviceMemory
	ptr  unsafe.Pointer
	size uint64
}

// heapKey separates buffers from images so linear and optimal resources
// never share a block.
type heapKey struct {
	typeIndex uint32
	image     bool
}

// allocation is a buffer or image bound to a sub-allocated range.
type allocation struct {
	desc   compressor.AllocationDesc
	buffer vk.Buffer
	image  vk.Image
	view   vk.ImageView
	key    heapKey
	sub    memory.Suballocation[*deviceBlock]
	mapped []byte
}

var _ compressor.Allocation = (*allocation)(nil)

func (a *allocation) Size() uint64   { return a.desc.ByteSize() }
func (a *allocation) Mapped() []byte { return a.mapped }

// Buffer returns the buffer handle, or vk.NullBuffer for images.
func (a *allocation) Buffer() vk.Buffer { return a.buffer }

// findMemoryType returns the first type allowed by typeBits that has every
// required flag, trying required|preferred before required alone.
func findMemoryType(props vk.PhysicalDeviceMemoryProperties, typeBits uint32,
	required, preferred vk.MemoryPropertyFlagBits) (uint32, bool) {

	search := func(want vk.MemoryPropertyFlags) (uint32, bool) {
		for i := uint32(0); i < props.MemoryTypeCount && i < vk.MaxMemoryTypes; i++ {
			if typeBits&(1<<i) == 0 {
				continue
			}
			props.MemoryTypes[i].Deref()
			if props.MemoryTypes[i].PropertyFlags&want == want {
				return i, true
			}
		}
		return 0, false
	}
	if preferred != 0 {
		if i, ok := search(vk.MemoryPropertyFlags(required | preferred)); ok {
			return i, true
		}
	}
	return search(vk.MemoryPropertyFlags(required))
}

func (d *Driver) heap(key heapKey) *memory.Pool[*deviceBlock] {
	if p, ok := d.heaps[key]; ok {
		return p
	}
	d.memProps.MemoryTypes[key.typeIndex].Deref()
	hostVisible := d.memProps.MemoryTypes[key.typeIndex].PropertyFlags&
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0

	p := memory.NewPool(d.opts.BlockSize,
		func(size uint64) (*deviceBlock, error) {
			var mem vk.DeviceMemory
			ret := vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
				SType:           vk.StructureTypeMemoryAllocateInfo,
				AllocationSize:  vk.DeviceSize(size),
				MemoryTypeIndex: key.typeIndex,
			}, nil, &mem)
			if isError(ret) {
				return nil, newError(ret)
			}
			b := &deviceBlock{mem: mem, size: size}
			if hostVisible {
				if ret := vk.MapMemory(d.device, mem, 0, vk.DeviceSize(size), 0, &b.ptr); isError(ret) {
					vk.FreeMemory(d.device, mem, nil)
					return nil, newError(ret)
				}
			}
			d.log.Debug("device memory block allocated", "type", key.typeIndex, "bytes", size, "mapped", hostVisible)
			return b, nil
		},
		func(b *deviceBlock) {
			if b.ptr != nil {
				vk.UnmapMemory(d.device, b.mem)
			}
			vk.FreeMemory(d.device, b.mem, nil)
			d.log.Debug("device memory block released", "type", key.typeIndex, "bytes", b.size)
		},
	)
	d.heaps[key] = p
	return p
}

// Allocate creates a buffer or image, sub-allocates its memory and binds it.
func (d *Driver) Allocate(desc compressor.AllocationDesc) (compressor.Allocation, error) {
	if d.device == nil {
		return nil, compressor.ErrClosed
	}
	a := &allocation{desc: desc}
	var reqs vk.MemoryRequirements
	switch desc.Kind {
	case compressor.KindBuffer:
		ret := vk.CreateBuffer(d.device, &vk.BufferCreateInfo{
			SType:       vk.StructureTypeBufferCreateInfo,
			Usage:       bufferUsage(desc.Usage),
			Size:        vk.DeviceSize(desc.Size),
			SharingMode: vk.SharingModeExclusive,
		}, nil, &a.buffer)
		if isError(ret) {
			return nil, newError(ret)
		}
		vk.GetBufferMemoryRequirements(d.device, a.buffer, &reqs)
	case compressor.KindImage:
		format := vkFormat(desc.Format)
		if format == vk.FormatUndefined {
			return nil, errors.Errorf("image %q has no Vulkan format for %s", desc.Name, desc.Format)
		}
		tiling := vk.ImageTilingOptimal
		if desc.Hint.HostVisible() {
			tiling = vk.ImageTilingLinear
		}
		ret := vk.CreateImage(d.device, &vk.ImageCreateInfo{
			SType:         vk.StructureTypeImageCreateInfo,
			ImageType:     vk.ImageType2d,
			Format:        format,
			Extent:        vk.Extent3D{Width: desc.Extent.Width, Height: desc.Extent.Height, Depth: 1},
			MipLevels:     1,
			ArrayLayers:   1,
			Samples:       vk.SampleCount1Bit,
			Tiling:        tiling,
			Usage:         imageUsage(desc.Usage),
			SharingMode:   vk.SharingModeExclusive,
			InitialLayout: vk.ImageLayoutUndefined,
		}, nil, &a.image)
		if isError(ret) {
			return nil, newError(ret)
		}
		a.key.image = true
		vk.GetImageMemoryRequirements(d.device, a.image, &reqs)
	default:
		return nil, errors.Errorf("unknown resource kind %d", desc.Kind)
	}
	reqs.Deref()

	required, preferred := memoryFlags(desc.Hint)
	typeIndex, ok := findMemoryType(d.memProps, reqs.MemoryTypeBits, required, preferred)
	if !ok {
		d.destroyHandles(a)
		return nil, errors.Wrapf(compressor.ErrOutOfDeviceMemory, "no memory type for %q", desc.Name)
	}
	a.key.typeIndex = typeIndex

	sub, err := d.heap(a.key).Allocate(uint64(reqs.Size), uint64(reqs.Alignment))
	if err != nil {
		d.destroyHandles(a)
		return nil, err
	}
	a.sub = sub
	mem, offset := sub.Block.Memory.mem, vk.DeviceSize(sub.Offset)

	var ret vk.Result
	if a.buffer != vk.NullBuffer {
		ret = vk.BindBufferMemory(d.device, a.buffer, mem, offset)
	} else {
		ret = vk.BindImageMemory(d.device, a.image, mem, offset)
	}
	if isError(ret) {
		d.Free(a)
		return nil, newError(ret)
	}

	if a.image != vk.NullImage && desc.Usage&(compressor.UsageSampled|compressor.UsageStorage|compressor.UsageColorAttachment) != 0 {
		if a.view, err = d.createView(a.image, vkFormat(desc.Format)); err != nil {
			d.Free(a)
			return nil, err
		}
	}
	if a.buffer != vk.NullBuffer {
		d.nameObject(vk.DebugReportObjectTypeBuffer, handleOf(unsafe.Pointer(a.buffer)), desc.Name)
	} else {
		d.nameObject(vk.DebugReportObjectTypeImage, handleOf(unsafe.Pointer(a.image)), desc.Name)
	}
	if ptr := sub.Block.Memory.ptr; ptr != nil {
		a.mapped = unsafe.Slice((*byte)(unsafe.Add(ptr, sub.Offset)), desc.ByteSize())
	}
	return a, nil
}

func (d *Driver) createView(image vk.Image, format vk.Format) (vk.ImageView, error) {
	var view vk.ImageView
	ret := vk.CreateImageView(d.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: colorRange,
	}, nil, &view)
	if isError(ret) {
		return vk.NullImageView, newError(ret)
	}
	return view, nil
}

func (d *Driver) destroyHandles(a *allocation) {
	if a.view != vk.NullImageView {
		vk.DestroyImageView(d.device, a.view, nil)
		a.view = vk.NullImageView
	}
	if a.buffer != vk.NullBuffer {
		vk.DestroyBuffer(d.device, a.buffer, nil)
		a.buffer = vk.NullBuffer
	}
	if a.image != vk.NullImage {
		vk.DestroyImage(d.device, a.image, nil)
		a.image = vk.NullImage
	}
}

// Free destroys the handles and returns the range to its block.
func (d *Driver) Free(ca compressor.Allocation) {
	a, ok := ca.(*allocation)
	if !ok || d.device == nil {
		return
	}
	d.destroyHandles(a)
	if a.sub.Block != nil {
		d.heap(a.key).Free(a.sub)
		a.sub = memory.Suballocation[*deviceBlock]{}
	}
	a.mapped = nil
}
