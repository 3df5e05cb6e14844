package segment

import (
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Net runs a selfie segmentation network through OpenCV's DNN module.
type Net struct {
	net  gocv.Net
	spec modelSpec
}

// NewNet loads the network for model from dir.
func NewNet(dir string, model Model) (*Net, error) {
	spec, ok := models[model]
	if !ok {
		return nil, errors.Errorf("unknown model %d", int(model))
	}

	path := filepath.Join(dir, spec.file)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "Can not find segmentation model")
	}

	net := gocv.ReadNet(path, "")
	if net.Empty() {
		net.Close()
		return nil, errors.Errorf("Error reading network model: %v", path)
	}
	return &Net{net: net, spec: spec}, nil
}

func (n *Net) Segment(rgb gocv.Mat) (gocv.Mat, error) {
	if rgb.Empty() {
		return gocv.NewMat(), errors.New("empty frame")
	}

	blob := gocv.BlobFromImage(rgb, 1.0/255.0, image.Pt(n.spec.width, n.spec.height),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	n.net.SetInput(blob, "")
	out := n.net.Forward("")
	defer out.Close()

	if out.Total() != n.spec.width*n.spec.height {
		return gocv.NewMat(), errors.Errorf("unexpected network output of %d values", out.Total())
	}

	grid := out.Reshape(1, n.spec.height)
	defer grid.Close()

	mask := gocv.NewMat()
	gocv.Resize(grid, &mask, image.Pt(rgb.Cols(), rgb.Rows()), 0, 0, gocv.InterpolationLinear)
	clamp(&mask)
	return mask, nil
}

// clamp limits interpolated values to [0, 1].
func clamp(mask *gocv.Mat) {
	gocv.Threshold(*mask, mask, 1, 1, gocv.ThresholdTrunc)
	gocv.Threshold(*mask, mask, 0, 0, gocv.ThresholdToZero)
}

func (n *Net) Close() error {
	return n.net.Close()
}
