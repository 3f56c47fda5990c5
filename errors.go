package compressor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinels reported by backends and matched with errors.Is.
var (
	ErrOutOfDeviceMemory  = errors.New("out of device memory")
	ErrOutOfHostMemory    = errors.New("out of host memory")
	ErrDeviceLost         = errors.New("device lost")
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	ErrTimeout            = errors.New("timeout")
	ErrFeatureNotPresent  = errors.New("feature not present")
	ErrNoDevice           = errors.New("no compatible device")
)

// Control flow and programming errors raised by the core.
var (
	// ErrRetry tells the caller to recreate the swapchain and acquire again.
	ErrRetry            = errors.New("swapchain needs recreation, retry")
	ErrResourceInFlight = errors.New("resource still referenced by an in-flight frame")
	ErrPoolFrozen       = errors.New("resource pool is frozen once frames begin")
	ErrUnknownResource  = errors.New("unknown resource")
	ErrClosed           = errors.New("closed")
)

// DeviceInitError is fatal: no device satisfied the requirements.
type DeviceInitError struct {
	Missing []string
	Err     error
}

func (e *DeviceInitError) Error() string {
	var b strings.Builder
	b.WriteString("device init failed")
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ", missing [%s]", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DeviceInitError) Unwrap() error { return e.Err }

// OutOfMemoryError is recoverable by freeing resources or shrinking the
// request. Host is set when host memory, not device memory, ran out.
type OutOfMemoryError struct {
	Name string
	Size uint64
	Host bool
	Err  error
}

func (e *OutOfMemoryError) Error() string {
	where := "device"
	if e.Host {
		where = "host"
	}
	return fmt.Sprintf("out of %s memory allocating %q (%d bytes): %v", where, e.Name, e.Size, e.Err)
}

func (e *OutOfMemoryError) Unwrap() error { return e.Err }

// DeviceLostError is fatal. Pending work is abandoned and resources can no
// longer be freed safely.
type DeviceLostError struct {
	Frame uint64
	Err   error
}

func (e *DeviceLostError) Error() string {
	return fmt.Sprintf("device lost at frame %d: %v", e.Frame, e.Err)
}

func (e *DeviceLostError) Unwrap() error { return e.Err }

// IsDeviceLost reports whether err carries device loss.
func IsDeviceLost(err error) bool {
	var lost *DeviceLostError
	return errors.As(err, &lost) || errors.Is(err, ErrDeviceLost)
}
