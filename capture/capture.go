// Package capture opens the physical camera and reads frames from it.
//
// A device is configured by an ordered list of steps (codec, width, height,
// frame rate). Drivers are free to ignore a setting they do not support, so
// every step reads the value back and fails when it did not stick.
package capture

import (
	"github.com/abihf/backdrop/config"
	"github.com/abihf/backdrop/errdefs"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DefaultDevice is used when no device is given: the first camera.
const DefaultDevice = "0"

// ErrNoFrame is returned by ReadFrame when the camera had nothing this cycle.
var ErrNoFrame = errdefs.ErrNoFrame

// Device is a camera that can be configured one setting at a time.
type Device interface {
	SetCodec(fourcc string) error
	SetWidth(width int) error
	SetHeight(height int) error
	SetFrameRate(fps int) error
	// Read stores the next frame, BGR ordered, into dst. It returns
	// ErrNoFrame when no frame was ready.
	Read(dst *gocv.Mat) error
	Close() error
}

// Opener opens a device by path or index.
type Opener func(device string) (Device, error)

type starter interface {
	Start() error
}

type Option struct {
	Device    string
	Width     int
	Height    int
	FrameRate int
	Codec     string
}

// Backend returns the opener registered under name.
func Backend(name string) (Opener, error) {
	switch name {
	case config.BackendOpenCV, "":
		return OpenCV, nil
	case config.BackendV4L2:
		return V4L2, nil
	}
	return nil, &errdefs.ValidationError{Field: "backend", Value: name, Reason: "unknown capture backend"}
}

// Source is a configured camera.
type Source struct {
	dev    Device
	name   string
	width  int
	height int
}

// Open opens the device and applies codec, width, height and frame rate in
// that order. The first failing step closes the device.
func Open(open Opener, opt *Option) (*Source, error) {
	if err := config.ValidateCodec(opt.Codec); err != nil {
		return nil, err
	}

	name := opt.Device
	if name == "" {
		name = DefaultDevice
	}

	dev, err := open(name)
	if err != nil {
		return nil, &errdefs.DeviceConfigError{Device: name, Setting: errdefs.SettingOpen, Err: err}
	}

	steps := []struct {
		setting string
		value   interface{}
		apply   func() error
	}{
		{errdefs.SettingCodec, opt.Codec, func() error { return dev.SetCodec(opt.Codec) }},
		{errdefs.SettingWidth, opt.Width, func() error { return dev.SetWidth(opt.Width) }},
		{errdefs.SettingHeight, opt.Height, func() error { return dev.SetHeight(opt.Height) }},
		{errdefs.SettingFrameRate, opt.FrameRate, func() error { return dev.SetFrameRate(opt.FrameRate) }},
	}
	for _, step := range steps {
		if err := step.apply(); err != nil {
			dev.Close()
			return nil, &errdefs.DeviceConfigError{Device: name, Setting: step.setting, Value: step.value, Err: err}
		}
	}

	if s, ok := dev.(starter); ok {
		if err := s.Start(); err != nil {
			dev.Close()
			return nil, &errdefs.DeviceConfigError{Device: name, Setting: errdefs.SettingOpen, Err: errors.Wrap(err, "Can not start streaming")}
		}
	}

	return &Source{dev: dev, name: name, width: opt.Width, height: opt.Height}, nil
}

// ReadFrame blocks until a frame is stored in dst or the device reports a
// transient failure (ErrNoFrame).
func (s *Source) ReadFrame(dst *gocv.Mat) error {
	return s.dev.Read(dst)
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) Close() error {
	return s.dev.Close()
}
