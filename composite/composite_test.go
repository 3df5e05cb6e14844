package composite

import (
	"bytes"
	"image"
	"math"
	"testing"

	"github.com/abihf/backdrop/errdefs"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	rows = 6
	cols = 8
)

// fixedSegmentor returns a copy of the same mask for every frame.
type fixedSegmentor struct {
	mask  gocv.Mat
	err   error
	calls int
}

func (f *fixedSegmentor) Segment(rgb gocv.Mat) (gocv.Mat, error) {
	f.calls++
	if f.err != nil {
		return gocv.NewMat(), f.err
	}
	return f.mask.Clone(), nil
}

func (f *fixedSegmentor) Close() error { return nil }

func solid(t *testing.T, r, g, b uint8) gocv.Mat {
	t.Helper()
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(r), float64(g), float64(b), 0), rows, cols, gocv.MatTypeCV8UC3)
}

// gradient gives every pixel a distinct value so misplaced pixels show up.
func gradient(t *testing.T) gocv.Mat {
	t.Helper()
	data := make([]byte, rows*cols*3)
	for i := range data {
		data[i] = byte(i % 251)
	}
	mat, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC3, data)
	if err != nil {
		t.Fatal(err)
	}
	return mat
}

func maskWithRect(value, inside float32, rect image.Rectangle) gocv.Mat {
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32FC1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := value
			if image.Pt(x, y).In(rect) {
				v = inside
			}
			mask.SetFloatAt(y, x, v)
		}
	}
	return mask
}

func TestBuildThresholdRange(t *testing.T) {
	bg := solid(t, 0, 0, 255)
	defer bg.Close()
	seg := &fixedSegmentor{}

	for _, ok := range []float64{0, 0.001, 50, 80, 99.99} {
		if _, err := Build(bg, seg, ok); err != nil {
			t.Errorf("threshold %v rejected: %v", ok, err)
		}
	}
	for _, bad := range []float64{-1, -0.0001, 100, 100.5, math.NaN(), math.Inf(1)} {
		if _, err := Build(bg, seg, bad); !errdefs.IsValidation(err) {
			t.Errorf("threshold %v: expected validation error, got %v", bad, err)
		}
	}
}

func TestCompositeRectangle(t *testing.T) {
	bg := solid(t, 10, 20, 30)
	defer bg.Close()
	frame := gradient(t)
	defer frame.Close()

	rect := image.Rect(2, 1, 6, 4)
	seg := &fixedSegmentor{mask: maskWithRect(0.2, 0.9, rect)}
	defer seg.mask.Close()

	fn, err := Build(bg, seg, 50)
	if err != nil {
		t.Fatal(err)
	}
	out, err := fn(frame)
	if err != nil {
		t.Fatalf("composite: %v", err)
	}
	defer out.Close()

	if out.Rows() != rows || out.Cols() != cols || out.Type() != gocv.MatTypeCV8UC3 {
		t.Fatalf("output shape %dx%d type %v", out.Cols(), out.Rows(), out.Type())
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			src := bg
			if image.Pt(x, y).In(rect) {
				src = frame
			}
			for c := 0; c < 3; c++ {
				if got, want := out.GetUCharAt(y, x*3+c), src.GetUCharAt(y, x*3+c); got != want {
					t.Fatalf("pixel (%d,%d,%d) = %d, want %d", x, y, c, got, want)
				}
			}
		}
	}
}

func TestCompositeThresholdIsStrict(t *testing.T) {
	bg := solid(t, 1, 2, 3)
	defer bg.Close()
	frame := solid(t, 200, 200, 200)
	defer frame.Close()

	seg := &fixedSegmentor{mask: maskWithRect(0.5, 0.5, image.Rectangle{})}
	defer seg.mask.Close()

	fn, err := Build(bg, seg, 50)
	if err != nil {
		t.Fatal(err)
	}
	out, err := fn(frame)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if !bytes.Equal(out.ToBytes(), bg.ToBytes()) {
		t.Error("a mask value equal to the threshold must select the background")
	}
}

func TestCompositeAllForegroundAndAllBackground(t *testing.T) {
	bg := solid(t, 0, 255, 0)
	defer bg.Close()
	frame := gradient(t)
	defer frame.Close()

	testCases := []struct {
		name  string
		value float32
		want  gocv.Mat
	}{
		{"foreground", 1, frame},
		{"background", 0, bg},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seg := &fixedSegmentor{mask: maskWithRect(tc.value, tc.value, image.Rectangle{})}
			defer seg.mask.Close()
			fn, err := Build(bg, seg, 0)
			if err != nil {
				t.Fatal(err)
			}
			out, err := fn(frame)
			if err != nil {
				t.Fatal(err)
			}
			defer out.Close()
			if !bytes.Equal(out.ToBytes(), tc.want.ToBytes()) {
				t.Errorf("output does not equal the %s", tc.name)
			}
		})
	}
}

func TestCompositeIsPure(t *testing.T) {
	bg := solid(t, 9, 9, 9)
	defer bg.Close()
	frame := gradient(t)
	defer frame.Close()
	before := frame.ToBytes()
	bgBefore := bg.ToBytes()

	seg := &fixedSegmentor{mask: maskWithRect(0.1, 0.95, image.Rect(0, 0, 3, 3))}
	defer seg.mask.Close()
	fn, err := Build(bg, seg, 80)
	if err != nil {
		t.Fatal(err)
	}

	first, err := fn(frame)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := fn(frame)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if !bytes.Equal(first.ToBytes(), second.ToBytes()) {
		t.Error("two runs on the same frame and mask differ")
	}
	if !bytes.Equal(frame.ToBytes(), before) {
		t.Error("frame was modified")
	}
	if !bytes.Equal(bg.ToBytes(), bgBefore) {
		t.Error("background was modified")
	}
	if seg.calls != 2 {
		t.Errorf("segmentor called %d times, want 2", seg.calls)
	}
}

func TestCompositeRejectsMismatchedFrame(t *testing.T) {
	bg := solid(t, 0, 0, 0)
	defer bg.Close()
	seg := &fixedSegmentor{mask: maskWithRect(1, 1, image.Rectangle{})}
	defer seg.mask.Close()
	fn, err := Build(bg, seg, 50)
	if err != nil {
		t.Fatal(err)
	}

	small := gocv.NewMatWithSize(rows-1, cols, gocv.MatTypeCV8UC3)
	defer small.Close()
	out, err := fn(small)
	defer out.Close()
	if err == nil {
		t.Error("expected error for a frame of the wrong size")
	}
	if seg.calls != 0 {
		t.Error("segmentor called for a mismatched frame")
	}
}

func TestCompositeSegmentationError(t *testing.T) {
	bg := solid(t, 0, 0, 0)
	defer bg.Close()
	frame := solid(t, 1, 1, 1)
	defer frame.Close()

	boom := errors.New("model crashed")
	fn, err := Build(bg, &fixedSegmentor{err: boom}, 50)
	if err != nil {
		t.Fatal(err)
	}
	out, err := fn(frame)
	defer out.Close()
	if errors.Cause(err) != boom {
		t.Errorf("err = %v, want cause %v", err, boom)
	}
}

func TestForegroundBroadcastsToThreeChannels(t *testing.T) {
	mask := maskWithRect(0, 1, image.Rect(0, 0, 1, 1))
	defer mask.Close()
	sel := Foreground(mask, 0.5)
	defer sel.Close()

	if sel.Channels() != 3 || sel.Type() != gocv.MatTypeCV8UC3 {
		t.Fatalf("selector type %v channels %d", sel.Type(), sel.Channels())
	}
	for c := 0; c < 3; c++ {
		if sel.GetUCharAt(0, c) != 255 {
			t.Errorf("channel %d of the foreground pixel is not set", c)
		}
		if sel.GetUCharAt(0, 3+c) != 0 {
			t.Errorf("channel %d of a background pixel is set", c)
		}
	}
}
