package vkdriver

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// objectNameInfo describes name for object. It reports false for
// anonymous or null objects.
func objectNameInfo(kind vk.DebugReportObjectType, object uint64, name string) (vk.DebugMarkerObjectNameInfo, bool) {
	if name == "" || object == 0 {
		return vk.DebugMarkerObjectNameInfo{}, false
	}
	return vk.DebugMarkerObjectNameInfo{
		SType:       vk.StructureTypeDebugMarkerObjectNameInfo,
		ObjectType:  kind,
		Object:      object,
		PObjectName: safeString(name),
	}, true
}

// nameObject attaches name to a device object so validation messages and
// capture tools show it. It is a no-op unless the marker extension is on.
func (d *Driver) nameObject(kind vk.DebugReportObjectType, object uint64, name string) {
	if !d.debugMarker {
		return
	}
	info, ok := objectNameInfo(kind, object, name)
	if !ok {
		return
	}
	if ret := vk.DebugMarkerSetObjectName(d.device, &info); isError(ret) {
		d.log.Debug("object name rejected", "name", name, "err", newError(ret))
	}
}

func handleOf(p unsafe.Pointer) uint64 { return uint64(uintptr(p)) }
