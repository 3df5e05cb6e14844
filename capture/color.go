package capture

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	fourccMJPG = FourCC("MJPG")
	fourccYUYV = FourCC("YUYV")
)

// FourCC packs a four character code the way V4L2 and OpenCV do, first
// character in the lowest byte.
func FourCC(code string) uint32 {
	if len(code) != 4 {
		return 0
	}
	return uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
}

func FourCCString(code uint32) string {
	return string([]byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)})
}

// ToRGB reorders a BGR frame into RGB.
func ToRGB(src gocv.Mat, dst *gocv.Mat) {
	gocv.CvtColor(src, dst, gocv.ColorBGRToRGB)
}

// ToBGR reorders an RGB frame into BGR.
func ToBGR(src gocv.Mat, dst *gocv.Mat) {
	gocv.CvtColor(src, dst, gocv.ColorRGBToBGR)
}

func canDecode(format uint32) bool {
	return format == fourccMJPG || format == fourccYUYV
}

// decodeFrame turns a raw driver buffer into a BGR Mat.
func decodeFrame(format uint32, width, height int, buf []byte, dst *gocv.Mat) error {
	switch format {
	case fourccMJPG:
		mat, err := gocv.IMDecode(buf, gocv.IMReadColor)
		if err != nil {
			return ErrNoFrame
		}
		defer mat.Close()
		// Cameras emit the odd corrupt JPEG; drop it like a missed frame.
		if mat.Empty() {
			return ErrNoFrame
		}
		mat.CopyTo(dst)
		return nil

	case fourccYUYV:
		if len(buf) < width*height*2 {
			return ErrNoFrame
		}
		src, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC2, buf[:width*height*2])
		if err != nil {
			return errors.Wrap(err, "Can not wrap YUYV frame")
		}
		defer src.Close()
		gocv.CvtColor(src, dst, gocv.ColorYUVToBGRYUY2)
		return nil
	}
	return errors.Errorf("no decoder for %s frames", FourCCString(format))
}
