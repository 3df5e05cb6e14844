package capture

import (
	"math"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// frameWait is how long Read waits for the driver, in seconds.
const frameWait = 1

type v4l2Device struct {
	cam       *webcam.Webcam
	format    webcam.PixelFormat
	width     uint32
	height    uint32
	streaming bool
}

// V4L2 opens a camera directly through the kernel's video4linux API. Only
// MJPG and YUYV frames can be decoded. A numeric name is taken as /dev/videoN.
func V4L2(name string) (Device, error) {
	path := name
	if isIndex(name) {
		path = "/dev/video" + name
	}
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can not open device")
	}
	return &v4l2Device{cam: cam}, nil
}

func (d *v4l2Device) SetCodec(codec string) error {
	format := webcam.PixelFormat(FourCC(codec))
	if !canDecode(uint32(format)) {
		return errors.Errorf("no decoder for %s frames", codec)
	}
	if _, ok := d.cam.GetSupportedFormats()[format]; !ok {
		return errors.Errorf("device does not support %s", codec)
	}

	got, w, h, err := d.cam.SetImageFormat(format, d.width, d.height)
	if err != nil {
		return err
	}
	if got != format {
		return errors.Errorf("device reports codec %s", FourCCString(uint32(got)))
	}
	d.format, d.width, d.height = got, w, h
	return nil
}

func (d *v4l2Device) SetWidth(width int) error {
	got, w, h, err := d.cam.SetImageFormat(d.format, uint32(width), d.height)
	if err != nil {
		return err
	}
	if got != d.format || w != uint32(width) {
		return errors.Errorf("device reports %s %dx%d", FourCCString(uint32(got)), w, h)
	}
	d.width, d.height = w, h
	return nil
}

func (d *v4l2Device) SetHeight(height int) error {
	got, w, h, err := d.cam.SetImageFormat(d.format, d.width, uint32(height))
	if err != nil {
		return err
	}
	if got != d.format || w != d.width || h != uint32(height) {
		return errors.Errorf("device reports %s %dx%d", FourCCString(uint32(got)), w, h)
	}
	d.height = h
	return nil
}

func (d *v4l2Device) SetFrameRate(fps int) error {
	if err := d.cam.SetFramerate(float32(fps)); err != nil {
		return err
	}
	got, err := d.cam.GetFramerate()
	if err != nil {
		return errors.Wrap(err, "Can not read back frame rate")
	}
	if math.Abs(float64(got)-float64(fps)) >= 0.5 {
		return errors.Errorf("device reports %v", got)
	}
	return nil
}

func (d *v4l2Device) Start() error {
	if err := d.cam.StartStreaming(); err != nil {
		return err
	}
	d.streaming = true
	return nil
}

func (d *v4l2Device) Read(dst *gocv.Mat) error {
	err := d.cam.WaitForFrame(frameWait)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return ErrNoFrame
	default:
		return errors.Wrap(err, "Frame wait failed")
	}

	frame, err := d.cam.ReadFrame()
	if err != nil {
		return errors.Wrap(err, "Read frame failed")
	}
	if len(frame) == 0 {
		return ErrNoFrame
	}
	return decodeFrame(uint32(d.format), int(d.width), int(d.height), frame, dst)
}

func (d *v4l2Device) Close() error {
	if d.streaming {
		d.cam.StopStreaming()
		d.streaming = false
	}
	return d.cam.Close()
}

func isIndex(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
