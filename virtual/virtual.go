// Package virtual writes frames to a v4l2loopback output device.
package virtual

import (
	"io"

	"github.com/abihf/backdrop/config"
	"github.com/abihf/backdrop/errdefs"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

type Option struct {
	// Device is the loopback path. Empty picks the first loopback device.
	Device string
	Width  int
	Height int
	FPS    int
	// Format is config.FormatI420 or config.FormatRGB24.
	Format string
	Clock  Clock
}

// Sink is an opened virtual camera. Frames are RGB ordered.
type Sink struct {
	w         io.WriteCloser
	name      string
	width     int
	height    int
	format    string
	frameSize int
	buf       gocv.Mat
	governor  *Governor
}

// Open opens the loopback device at the requested size, format and rate.
func Open(opt *Option) (*Sink, error) {
	if err := check(opt); err != nil {
		return nil, err
	}

	name := opt.Device
	if name == "" {
		found, err := findLoopback()
		if err != nil {
			return nil, &errdefs.DeviceConfigError{Device: "<any loopback>", Setting: errdefs.SettingOpen, Err: err}
		}
		name = found
	}

	dev, err := openLoopback(name, opt)
	if err != nil {
		return nil, err
	}
	return newSink(dev, name, opt), nil
}

func check(opt *Option) error {
	if opt.Width <= 0 || opt.Height <= 0 {
		return &errdefs.ValidationError{Field: "size", Value: [2]int{opt.Width, opt.Height}, Reason: "must be positive"}
	}
	if opt.FPS <= 0 {
		return &errdefs.ValidationError{Field: "frame rate", Value: opt.FPS, Reason: "must be a positive integer"}
	}
	switch opt.Format {
	case config.FormatI420:
		if opt.Width%2 != 0 || opt.Height%2 != 0 {
			return &errdefs.ValidationError{Field: "size", Value: [2]int{opt.Width, opt.Height}, Reason: "I420 needs even dimensions"}
		}
	case config.FormatRGB24:
	default:
		return &errdefs.ValidationError{Field: "format", Value: opt.Format, Reason: "unsupported output format"}
	}
	return nil
}

func newSink(w io.WriteCloser, name string, opt *Option) *Sink {
	return &Sink{
		w:         w,
		name:      name,
		width:     opt.Width,
		height:    opt.Height,
		format:    opt.Format,
		frameSize: frameSize(opt.Format, opt.Width, opt.Height),
		buf:       gocv.NewMat(),
		governor:  NewGovernor(opt.FPS, opt.Clock),
	}
}

func frameSize(format string, width, height int) int {
	if format == config.FormatI420 {
		return width * height * 3 / 2
	}
	return width * height * 3
}

// WriteFrame delivers one RGB frame of the configured size.
func (s *Sink) WriteFrame(rgb gocv.Mat) error {
	if rgb.Rows() != s.height || rgb.Cols() != s.width || rgb.Type() != gocv.MatTypeCV8UC3 {
		return errors.Errorf("frame %dx%d type %v does not match virtual camera %dx%d",
			rgb.Cols(), rgb.Rows(), rgb.Type(), s.width, s.height)
	}

	var data []byte
	switch s.format {
	case config.FormatI420:
		gocv.CvtColor(rgb, &s.buf, gocv.ColorRGBToYUVI420)
		data = s.buf.ToBytes()
	default:
		data = rgb.ToBytes()
	}
	if len(data) != s.frameSize {
		return errors.Errorf("encoded frame is %d bytes, want %d", len(data), s.frameSize)
	}

	n, err := s.w.Write(data)
	if err != nil {
		return errors.Wrapf(err, "Can not write frame to %s", s.name)
	}
	if n != len(data) {
		return errors.Wrapf(io.ErrShortWrite, "Can not write frame to %s", s.name)
	}
	return nil
}

// PacedWait blocks until the next frame is due.
func (s *Sink) PacedWait() {
	s.governor.Wait()
}

func (s *Sink) Name() string {
	return s.name
}

func (s *Sink) Close() error {
	s.buf.Close()
	return s.w.Close()
}
