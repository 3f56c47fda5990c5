package vkdriver

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
)

var formats = map[compressor.Format]vk.Format{
	compressor.FormatRGBA8Unorm:   vk.FormatR8g8b8a8Unorm,
	compressor.FormatBGRA8Unorm:   vk.FormatB8g8r8a8Unorm,
	compressor.FormatBGRA8SRGB:    vk.FormatB8g8r8a8Srgb,
	compressor.FormatR32Float:     vk.FormatR32Sfloat,
	compressor.FormatRGBA16Float:  vk.FormatR16g16b16a16Sfloat,
	compressor.FormatRGBA32Float:  vk.FormatR32g32b32a32Sfloat,
	compressor.FormatBC1RGBAUnorm: vk.FormatBc1RgbaUnormBlock,
	compressor.FormatBC3Unorm:     vk.FormatBc3UnormBlock,
	compressor.FormatBC7Unorm:     vk.FormatBc7UnormBlock,
}

func vkFormat(f compressor.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

func coreFormat(f vk.Format) compressor.Format {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return compressor.FormatUndefined
}

func bufferUsage(u compressor.Usage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u.Has(compressor.UsageTransferSrc) {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u.Has(compressor.UsageTransferDst) {
		flags |= vk.BufferUsageTransferDstBit
	}
	if u.Has(compressor.UsageUniform) {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if u.Has(compressor.UsageStorage) {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u.Has(compressor.UsageVertex) {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u.Has(compressor.UsageIndex) {
		flags |= vk.BufferUsageIndexBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

func imageUsage(u compressor.Usage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u.Has(compressor.UsageTransferSrc) {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if u.Has(compressor.UsageTransferDst) {
		flags |= vk.ImageUsageTransferDstBit
	}
	if u.Has(compressor.UsageSampled) {
		flags |= vk.ImageUsageSampledBit
	}
	if u.Has(compressor.UsageStorage) {
		flags |= vk.ImageUsageStorageBit
	}
	if u.Has(compressor.UsageColorAttachment) {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	return vk.ImageUsageFlags(flags)
}

// memoryFlags returns the required and preferred property flags for hint.
func memoryFlags(hint compressor.MemoryHint) (required, preferred vk.MemoryPropertyFlagBits) {
	switch hint {
	case compressor.MemoryUpload:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit, vk.MemoryPropertyDeviceLocalBit
	case compressor.MemoryReadback:
		return vk.MemoryPropertyHostVisibleBit, vk.MemoryPropertyHostCachedBit
	}
	return vk.MemoryPropertyDeviceLocalBit, 0
}

func presentMode(m compressor.PresentMode) vk.PresentMode {
	switch m {
	case compressor.PresentMailbox:
		return vk.PresentModeMailbox
	case compressor.PresentImmediate:
		return vk.PresentModeImmediate
	}
	return vk.PresentModeFifo
}

var deviceTypes = map[vk.PhysicalDeviceType]string{
	vk.PhysicalDeviceTypeIntegratedGpu: "integrated",
	vk.PhysicalDeviceTypeDiscreteGpu:   "discrete",
	vk.PhysicalDeviceTypeVirtualGpu:    "virtual",
	vk.PhysicalDeviceTypeCpu:           "cpu",
}

func deviceType(t vk.PhysicalDeviceType) string {
	if s, ok := deviceTypes[t]; ok {
		return s
	}
	return "other"
}
