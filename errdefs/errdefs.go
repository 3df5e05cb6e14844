// Package errdefs holds the error kinds shared by the startup path.
//
// Callers classify failures with errors.As; every kind keeps its cause so the
// message printed at exit names the failing setting and the underlying reason.
package errdefs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoFrame reports that a device had no frame ready this cycle.
var ErrNoFrame = errors.New("no frame available")

// DecodeError is returned when background bytes are not an image.
type DecodeError struct {
	Source string
	Size   int
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("could not decode background image %s (%d bytes)", e.Source, e.Size)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Device setting names used in DeviceConfigError.
const (
	SettingOpen      = "open"
	SettingCodec     = "codec"
	SettingWidth     = "width"
	SettingHeight    = "height"
	SettingFrameRate = "frame rate"
	SettingFormat    = "format"
)

// DeviceConfigError is returned when a capture or loopback device refuses a setting.
type DeviceConfigError struct {
	Device  string
	Setting string
	Value   interface{}
	Err     error
}

func (e *DeviceConfigError) Error() string {
	var msg string
	if e.Setting == SettingOpen {
		msg = fmt.Sprintf("could not open device %s", e.Device)
	} else {
		msg = fmt.Sprintf("could not set %s to %v on device %s", e.Setting, e.Value, e.Device)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceConfigError) Unwrap() error { return e.Err }

// ValidationError is returned for a malformed value before any device is touched.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// IsDecode reports whether err is or wraps a DecodeError.
func IsDecode(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

// IsDeviceConfig reports whether err is or wraps a DeviceConfigError.
func IsDeviceConfig(err error) bool {
	var target *DeviceConfigError
	return errors.As(err, &target)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
