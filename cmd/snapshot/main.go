package main

import (
	"flag"
	"fmt"
	"image"
	"os"

	"github.com/abihf/backdrop/background"
	"github.com/abihf/backdrop/capture"
	"github.com/abihf/backdrop/composite"
	"github.com/abihf/backdrop/config"
	"github.com/abihf/backdrop/segment"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	input     = flag.String("input", "", "image to composite instead of a camera frame")
	physical  = flag.String("physical", "", "physical camera path or index")
	backend   = flag.String("backend", config.BackendOpenCV, "capture backend (opencv or v4l2)")
	codec     = flag.String("codec", config.DefaultCodec, "physical camera fourcc codec")
	warmup    = flag.Int("warmup", 10, "camera frames to skip before the snapshot")
	model     = flag.Int("model", config.DefaultModel, "segmentation model kind (0 general, 1 landscape)")
	modelDir  = flag.String("model-dir", config.Default().ModelDir, "directory holding the segmentation models")
	threshold = flag.Float64("threshold", config.Default().Threshold, "percentage confidence threshold")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: snapshot [flags] <background> <output>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	if err := mainE(flag.Arg(0), flag.Arg(1)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func mainE(backgroundPath, output string) error {
	if err := config.ValidateThreshold(*threshold); err != nil {
		return err
	}

	bgr, err := background.LoadFile(backgroundPath)
	if err != nil {
		return err
	}
	defer bgr.Close()

	bg := gocv.NewMat()
	defer bg.Close()
	capture.ToRGB(bgr, &bg)

	seg, err := segment.NewNet(*modelDir, segment.Model(*model))
	if err != nil {
		return errors.Wrap(err, "Can not initialize segmentation model")
	}
	defer seg.Close()

	transform, err := composite.Build(bg, seg, *threshold)
	if err != nil {
		return err
	}

	frame := gocv.NewMat()
	defer frame.Close()
	if *input != "" {
		err = loadInput(*input, bg.Cols(), bg.Rows(), &frame)
	} else {
		err = grab(bg.Cols(), bg.Rows(), &frame)
	}
	if err != nil {
		return err
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	capture.ToRGB(frame, &rgb)

	out, err := transform(rgb)
	defer out.Close()
	if err != nil {
		return err
	}

	result := gocv.NewMat()
	defer result.Close()
	capture.ToBGR(out, &result)
	if !gocv.IMWrite(output, result) {
		return errors.Errorf("Can not write %s", output)
	}
	fmt.Printf("Wrote %s\n", output)
	return nil
}

// loadInput decodes an image and scales it to the background size.
func loadInput(path string, width, height int, dst *gocv.Mat) error {
	img, err := background.LoadFile(path)
	if err != nil {
		return err
	}
	defer img.Close()
	gocv.Resize(img, dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	return nil
}

// grab reads frames from the camera, keeping the last one after warm-up.
func grab(width, height int, dst *gocv.Mat) error {
	open, err := capture.Backend(*backend)
	if err != nil {
		return err
	}
	src, err := capture.Open(open, &capture.Option{
		Device:    *physical,
		Width:     width,
		Height:    height,
		FrameRate: 30,
		Codec:     *codec,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	for got, attempts := 0, 0; got <= *warmup; attempts++ {
		if attempts > (*warmup+1)*100 {
			return errors.New("camera delivered no frames")
		}
		if err := src.ReadFrame(dst); err != nil {
			continue
		}
		got++
	}
	return nil
}
