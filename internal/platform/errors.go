package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned by backends that cannot capture on this system
	ErrUnsupported = errors.New("audio capture is not supported on this platform")
	// ErrDeviceNotFound is returned when no endpoint matches a lookup
	ErrDeviceNotFound = errors.New("audio device not found")
)

// DeviceError is a fault reported by the audio subsystem for an endpoint or
// stream. The session reopens the device when it sees one
type DeviceError struct {
	Op   string
	Code uint32
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: device error 0x%08X", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: device error 0x%08X: %v", e.Op, e.Code, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError wraps err as a device fault of op
func NewDeviceError(op string, code uint32, err error) error {
	return &DeviceError{Op: op, Code: code, Err: err}
}

// IsDeviceFault reports whether err is, or wraps, a DeviceError
func IsDeviceFault(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
