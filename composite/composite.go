// Package composite replaces the background of camera frames.
package composite

import (
	"github.com/abihf/backdrop/config"
	"github.com/abihf/backdrop/segment"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Func composites one RGB frame. The caller owns the returned Mat and closes
// it on the error path too.
type Func func(frame gocv.Mat) (gocv.Mat, error)

// Build returns a Func that keeps the frame wherever seg is more than
// thresholdPercent confident the pixel is foreground and draws background
// everywhere else. background must stay open for as long as the Func is used.
func Build(background gocv.Mat, seg segment.Segmentor, thresholdPercent float64) (Func, error) {
	if err := config.ValidateThreshold(thresholdPercent); err != nil {
		return nil, err
	}
	if background.Empty() || background.Type() != gocv.MatTypeCV8UC3 {
		return nil, errors.New("background must be a non-empty three channel image")
	}
	threshold := float32(thresholdPercent / 100)

	return func(frame gocv.Mat) (gocv.Mat, error) {
		if frame.Rows() != background.Rows() || frame.Cols() != background.Cols() || frame.Type() != background.Type() {
			return gocv.NewMat(), errors.Errorf("frame %dx%d does not match background %dx%d",
				frame.Cols(), frame.Rows(), background.Cols(), background.Rows())
		}

		mask, err := seg.Segment(frame)
		if err != nil {
			mask.Close()
			return gocv.NewMat(), errors.Wrap(err, "Segmentation failed")
		}
		defer mask.Close()

		if mask.Rows() != frame.Rows() || mask.Cols() != frame.Cols() || mask.Type() != gocv.MatTypeCV32FC1 {
			return gocv.NewMat(), errors.Errorf("segmentation mask %dx%d type %v does not match frame",
				mask.Cols(), mask.Rows(), mask.Type())
		}

		selector := Foreground(mask, threshold)
		defer selector.Close()

		out := background.Clone()
		frame.CopyToWithMask(&out, selector)
		return out, nil
	}, nil
}

// Foreground thresholds a CV32FC1 probability mask into a three channel
// CV8UC3 selector: 255 in every channel where the value is strictly above
// threshold, 0 elsewhere.
func Foreground(mask gocv.Mat, threshold float32) gocv.Mat {
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(mask, &binary, threshold, 255, gocv.ThresholdBinary)

	single := gocv.NewMat()
	defer single.Close()
	binary.ConvertTo(&single, gocv.MatTypeCV8U)

	selector := gocv.NewMat()
	gocv.Merge([]gocv.Mat{single, single, single}, &selector)
	return selector
}
