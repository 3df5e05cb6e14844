package capture

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

type cvDevice struct {
	cap *gocv.VideoCapture
}

// OpenCV opens a camera through OpenCV's video capture. A numeric name is
// taken as a device index.
func OpenCV(name string) (Device, error) {
	var id interface{} = name
	if index, err := strconv.Atoi(name); err == nil {
		id = index
	}

	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, errors.Wrap(err, "Can not open video capture")
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.New("video capture is not opened")
	}
	return &cvDevice{cap: vc}, nil
}

func (d *cvDevice) SetCodec(codec string) error {
	want := d.cap.ToCodec(codec)
	d.cap.Set(gocv.VideoCaptureFOURCC, want)
	if got := d.cap.Get(gocv.VideoCaptureFOURCC); got != want {
		return errors.Errorf("device reports codec %q", d.cap.CodecString())
	}
	return nil
}

func (d *cvDevice) SetWidth(width int) error {
	return d.set(gocv.VideoCaptureFrameWidth, float64(width))
}

func (d *cvDevice) SetHeight(height int) error {
	return d.set(gocv.VideoCaptureFrameHeight, float64(height))
}

func (d *cvDevice) SetFrameRate(fps int) error {
	return d.set(gocv.VideoCaptureFPS, float64(fps))
}

// set writes prop and reads it back. Frame rates come back as doubles that
// may be off by a fraction, so anything within half a unit is accepted.
func (d *cvDevice) set(prop gocv.VideoCaptureProperties, value float64) error {
	d.cap.Set(prop, value)
	if got := d.cap.Get(prop); math.Abs(got-value) >= 0.5 {
		return errors.Errorf("device reports %v", got)
	}
	return nil
}

func (d *cvDevice) Read(dst *gocv.Mat) error {
	if !d.cap.Read(dst) || dst.Empty() {
		return ErrNoFrame
	}
	return nil
}

func (d *cvDevice) Close() error {
	return d.cap.Close()
}
