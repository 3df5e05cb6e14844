// Package background decodes the still image drawn behind the foreground.
package background

import (
	"os"

	"github.com/abihf/backdrop/errdefs"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Load decodes data as a color image. The result is 8-bit, three channel,
// BGR ordered, and owned by the caller.
func Load(data []byte) (gocv.Mat, error) {
	return decode("<memory>", data)
}

// LoadFile reads path and decodes it. A read failure is reported as a plain
// error so it can be told apart from a file that is not an image.
func LoadFile(path string) (gocv.Mat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "Can not read background image")
	}
	return decode(path, data)
}

func decode(source string, data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), &errdefs.DecodeError{Source: source, Err: errors.New("file is empty")}
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), &errdefs.DecodeError{Source: source, Size: len(data), Err: err}
	}
	if mat.Empty() || mat.Rows() <= 0 || mat.Cols() <= 0 {
		mat.Close()
		return gocv.NewMat(), &errdefs.DecodeError{Source: source, Size: len(data), Err: errors.New("not an image")}
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		mat.Close()
		return gocv.NewMat(), &errdefs.DecodeError{Source: source, Size: len(data), Err: errors.Errorf("unexpected pixel type %v", mat.Type())}
	}
	return mat, nil
}
