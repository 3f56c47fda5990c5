package vkdriver

import (
	"time"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
)

type fence struct {
	device vk.Device
	handle vk.Fence
	name   string
}

func (d *Driver) NewFence(signaled bool, name string) (compressor.Fence, error) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	f := &fence{device: d.device, name: name}
	ret := vk.CreateFence(d.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &f.handle)
	if isError(ret) {
		return nil, newError(ret)
	}
	d.nameObject(vk.DebugReportObjectTypeFence, handleOf(unsafe.Pointer(f.handle)), name)
	return f, nil
}

// Wait reports false when timeout elapses first.
func (f *fence) Wait(timeout time.Duration) (bool, error) {
	if timeout < 0 {
		timeout = 0
	}
	ret := vk.WaitForFences(f.device, 1, []vk.Fence{f.handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch ret {
	case vk.Success:
		return true, nil
	case vk.Timeout:
		return false, nil
	}
	return false, newError(ret)
}

func (f *fence) Reset() error {
	return newError(vk.ResetFences(f.device, 1, []vk.Fence{f.handle}))
}

func (f *fence) Destroy() {
	if f.handle != vk.NullFence {
		vk.DestroyFence(f.device, f.handle, nil)
		f.handle = vk.NullFence
	}
}

func (f *fence) String() string { return f.name }

type semaphore struct {
	device vk.Device
	handle vk.Semaphore
	name   string
}

func (d *Driver) NewSemaphore(name string) (compressor.Semaphore, error) {
	s := &semaphore{device: d.device, name: name}
	ret := vk.CreateSemaphore(d.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &s.handle)
	if isError(ret) {
		return nil, newError(ret)
	}
	d.nameObject(vk.DebugReportObjectTypeSemaphore, handleOf(unsafe.Pointer(s.handle)), name)
	return s, nil
}

func (s *semaphore) Destroy() {
	if s.handle != vk.NullSemaphore {
		vk.DestroySemaphore(s.device, s.handle, nil)
		s.handle = vk.NullSemaphore
	}
}

func (s *semaphore) String() string { return s.name }

func semaphoreHandle(s compressor.Semaphore) vk.Semaphore {
	if vs, ok := s.(*semaphore); ok && vs != nil {
		return vs.handle
	}
	return vk.NullSemaphore
}

func fenceHandle(f compressor.Fence) vk.Fence {
	if vf, ok := f.(*fence); ok && vf != nil {
		return vf.handle
	}
	return vk.NullFence
}
