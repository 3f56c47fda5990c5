package vkdriver

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
)

// GPU summarizes a physical device.
type GPU struct {
	Name          string
	Type          string
	APIVersion    string
	DriverVersion uint32
	// DeviceLocal is the size of the largest device local heap.
	DeviceLocal uint64
	Extensions  int
	Swapchain   bool
}

// Enumerate lists the GPUs the loader reports. It creates and destroys its
// own instance.
func Enumerate(opts Options) ([]GPU, error) {
	d := New(opts)
	defer d.Close()
	if err := d.load(); err != nil {
		return nil, err
	}
	if err := d.createInstance(compressor.Requirements{AppName: "compressor-devices", Headless: true}); err != nil {
		return nil, err
	}

	var count uint32
	if ret := vk.EnumeratePhysicalDevices(d.instance, &count, nil); isError(ret) {
		return nil, newError(ret)
	}
	gpus := make([]vk.PhysicalDevice, count)
	if ret := vk.EnumeratePhysicalDevices(d.instance, &count, gpus); isError(ret) {
		return nil, newError(ret)
	}

	out := make([]GPU, 0, count)
	for _, gpu := range gpus {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &props)
		props.Deref()
		var mem vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(gpu, &mem)
		mem.Deref()

		g := GPU{
			Name:          vk.ToString(props.DeviceName[:]),
			Type:          deviceType(props.DeviceType),
			APIVersion:    versionString(props.ApiVersion),
			DriverVersion: props.DriverVersion,
		}
		for i := uint32(0); i < mem.MemoryHeapCount && i < vk.MaxMemoryHeaps; i++ {
			mem.MemoryHeaps[i].Deref()
			h := mem.MemoryHeaps[i]
			if h.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 && uint64(h.Size) > g.DeviceLocal {
				g.DeviceLocal = uint64(h.Size)
			}
		}
		if exts, err := DeviceExtensions(gpu); err == nil {
			g.Extensions = len(exts)
			have, _ := checkExisting(exts, []string{swapchainExt})
			g.Swapchain = len(have) > 0
		}
		out = append(out, g)
	}
	return out, nil
}

func versionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)
}
