package vkdriver

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// sentinel maps the results the core reacts to onto its error values.
func sentinel(ret vk.Result) error {
	switch ret {
	case vk.ErrorOutOfDeviceMemory:
		return compressor.ErrOutOfDeviceMemory
	case vk.ErrorOutOfHostMemory:
		return compressor.ErrOutOfHostMemory
	case vk.ErrorDeviceLost:
		return compressor.ErrDeviceLost
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return compressor.ErrSwapchainOutOfDate
	case vk.Timeout, vk.NotReady:
		return compressor.ErrTimeout
	case vk.ErrorFeatureNotPresent, vk.ErrorExtensionNotPresent, vk.ErrorLayerNotPresent:
		return compressor.ErrFeatureNotPresent
	case vk.ErrorIncompatibleDriver, vk.ErrorInitializationFailed:
		return compressor.ErrNoDevice
	}
	return vk.Error(ret)
}

// newError turns a failed result into an error naming the calling function.
// Results the core handles wrap one of its sentinels.
func newError(ret vk.Result) error {
	if !isError(ret) {
		return nil
	}
	base := sentinel(ret)
	if pc, _, _, ok := runtime.Caller(1); ok {
		return errors.Wrapf(base, "vulkan: %s (%d) in %s", vk.Error(ret), ret, funcName(pc))
	}
	return errors.Wrapf(base, "vulkan: %s (%d)", vk.Error(ret), ret)
}

func funcName(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return fmt.Sprintf("pc %#x", pc)
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
