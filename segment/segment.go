// Package segment turns an RGB frame into a per-pixel foreground probability.
package segment

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Segmentor produces a foreground mask for a frame.
type Segmentor interface {
	// Segment returns a CV32FC1 Mat the size of rgb holding values in
	// [0, 1]. rgb must not be modified. The caller owns the result, also
	// when an error is returned.
	Segment(rgb gocv.Mat) (gocv.Mat, error)
	Close() error
}

// Model selects one of the two selfie segmentation networks.
type Model int

const (
	// General works on a square 256x256 input.
	General Model = 0
	// Landscape works on a 256x144 input and is faster.
	Landscape Model = 1
)

type modelSpec struct {
	file   string
	width  int
	height int
}

var models = map[Model]modelSpec{
	General:   {file: "selfie_segmentation.tflite", width: 256, height: 256},
	Landscape: {file: "selfie_segmentation_landscape.tflite", width: 256, height: 144},
}

func (m Model) String() string {
	switch m {
	case General:
		return "general"
	case Landscape:
		return "landscape"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}
