package backdrop

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/abihf/backdrop/config"
	"github.com/abihf/backdrop/errdefs"
	"github.com/abihf/backdrop/segment"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

const (
	e2eWidth  = 640
	e2eHeight = 480
	e2eFrames = 5
)

type constantSegmentor struct {
	value  float32
	closed bool
}

func (s *constantSegmentor) Segment(rgb gocv.Mat) (gocv.Mat, error) {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(s.value), 0, 0, 0), rgb.Rows(), rgb.Cols(), gocv.MatTypeCV32FC1), nil
}

func (s *constantSegmentor) Close() error {
	s.closed = true
	return nil
}

// loopSource emits the same BGR frame forever.
type loopSource struct {
	frame  gocv.Mat
	closed bool
}

func (s *loopSource) ReadFrame(dst *gocv.Mat) error {
	s.frame.CopyTo(dst)
	return nil
}

func (s *loopSource) Close() error {
	s.closed = true
	return nil
}

// captureSink keeps every written frame and cancels the run after limit.
type captureSink struct {
	frames [][]byte
	limit  int
	cancel context.CancelFunc
	closed bool
}

func (s *captureSink) WriteFrame(rgb gocv.Mat) error {
	s.frames = append(s.frames, rgb.ToBytes())
	if len(s.frames) >= s.limit {
		s.cancel()
	}
	return nil
}

func (s *captureSink) PacedWait() {}

func (s *captureSink) Close() error {
	s.closed = true
	return nil
}

// writeBackground stores a lossless test image and returns its RGB bytes.
func writeBackground(t *testing.T) (string, []byte) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, e2eWidth, e2eHeight))
	rgb := make([]byte, 0, e2eWidth*e2eHeight*3)
	for y := 0; y < e2eHeight; y++ {
		for x := 0; x < e2eWidth; x++ {
			c := color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255}
			img.Set(x, y, c)
			rgb = append(rgb, c.R, c.G, c.B)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "background.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, rgb
}

func e2eConfig(path string) *config.Config {
	cfg := config.Default()
	cfg.Background = path
	cfg.FrameRate = 30
	cfg.Threshold = 50.0
	cfg.Model = 1
	cfg.Silent = true
	cfg.RetryDelay = 0
	return cfg
}

type fixture struct {
	seg    *constantSegmentor
	source *loopSource
	sink   *captureSink
	// frameRGB is the source frame in RGB order.
	frameRGB []byte
}

func newFixture(t *testing.T, maskValue float32, cancel context.CancelFunc) (*fixture, Devices) {
	t.Helper()
	data := make([]byte, e2eWidth*e2eHeight*3)
	rgb := make([]byte, len(data))
	for i := 0; i < len(data); i += 3 {
		b, g, r := byte(i/3%200), byte(17), byte(255-i/3%200)
		data[i], data[i+1], data[i+2] = b, g, r
		rgb[i], rgb[i+1], rgb[i+2] = r, g, b
	}
	frame, err := gocv.NewMatFromBytes(e2eHeight, e2eWidth, gocv.MatTypeCV8UC3, data)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { frame.Close() })

	f := &fixture{
		seg:      &constantSegmentor{value: maskValue},
		source:   &loopSource{frame: frame},
		sink:     &captureSink{limit: e2eFrames, cancel: cancel},
		frameRGB: rgb,
	}
	devs := Devices{
		Segmentor: func(*config.Config) (segment.Segmentor, error) { return f.seg, nil },
		Source: func(cfg *config.Config, w, h int) (SourceCloser, error) {
			if w != e2eWidth || h != e2eHeight {
				t.Errorf("source sized %dx%d", w, h)
			}
			return f.source, nil
		},
		Sink: func(cfg *config.Config, w, h int) (SinkCloser, error) {
			if w != e2eWidth || h != e2eHeight || cfg.FrameRate != 30 {
				t.Errorf("sink sized %dx%d@%d", w, h, cfg.FrameRate)
			}
			return f.sink, nil
		},
	}
	return f, devs
}

func TestRunAllForeground(t *testing.T) {
	path, _ := writeBackground(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, devs := newFixture(t, 1, cancel)

	ready := false
	if err := Run(ctx, e2eConfig(path), devs, zerolog.Nop(), NewStats(), func() { ready = true }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ready {
		t.Error("ready callback not called")
	}
	if len(f.sink.frames) != e2eFrames {
		t.Fatalf("wrote %d frames, want %d", len(f.sink.frames), e2eFrames)
	}
	for i, out := range f.sink.frames {
		if !bytes.Equal(out, f.frameRGB) {
			t.Fatalf("frame %d does not equal the source frame", i)
		}
	}
	if !f.seg.closed || !f.source.closed || !f.sink.closed {
		t.Errorf("not released: segmentor=%v source=%v sink=%v", f.seg.closed, f.source.closed, f.sink.closed)
	}
}

func TestRunAllBackground(t *testing.T) {
	path, bgRGB := writeBackground(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, devs := newFixture(t, 0, cancel)

	if err := Run(ctx, e2eConfig(path), devs, zerolog.Nop(), NewStats(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.sink.frames) != e2eFrames {
		t.Fatalf("wrote %d frames, want %d", len(f.sink.frames), e2eFrames)
	}
	for i, out := range f.sink.frames {
		if !bytes.Equal(out, bgRGB) {
			t.Fatalf("frame %d does not equal the background", i)
		}
	}
}

func TestRunBadBackground(t *testing.T) {
	path := filepath.Join(t.TempDir(), "background.png")
	if err := os.WriteFile(path, []byte("GIF89a but not really"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, devs := newFixture(t, 1, cancel)
	opened := false
	devs.Source = func(*config.Config, int, int) (SourceCloser, error) {
		opened = true
		return f.source, nil
	}

	err := Run(ctx, e2eConfig(path), devs, zerolog.Nop(), NewStats(), nil)
	if !errdefs.IsDecode(err) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if opened {
		t.Error("camera opened despite an undecodable background")
	}
}

func TestRunBadThresholdTouchesNothing(t *testing.T) {
	path, _ := writeBackground(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, devs := newFixture(t, 1, cancel)
	devs.Segmentor = func(*config.Config) (segment.Segmentor, error) {
		t.Error("segmentor loaded despite a bad threshold")
		return &constantSegmentor{}, nil
	}

	cfg := e2eConfig(path)
	cfg.Threshold = 100
	if err := Run(ctx, cfg, devs, zerolog.Nop(), NewStats(), nil); !errdefs.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRunReleasesOnSinkFailure(t *testing.T) {
	path, _ := writeBackground(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, devs := newFixture(t, 1, cancel)
	sinkErr := &errdefs.DeviceConfigError{Device: "/dev/video10", Setting: errdefs.SettingOpen, Err: errors.New("busy")}
	devs.Sink = func(*config.Config, int, int) (SinkCloser, error) { return nil, sinkErr }

	err := Run(ctx, e2eConfig(path), devs, zerolog.Nop(), NewStats(), nil)
	if !errdefs.IsDeviceConfig(err) {
		t.Fatalf("expected DeviceConfigError, got %v", err)
	}
	if !f.source.closed || !f.seg.closed {
		t.Errorf("not released: source=%v segmentor=%v", f.source.closed, f.seg.closed)
	}
}
