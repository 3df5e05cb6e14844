package backdrop

import (
	"context"
	"io"

	"github.com/abihf/backdrop/background"
	"github.com/abihf/backdrop/capture"
	"github.com/abihf/backdrop/composite"
	"github.com/abihf/backdrop/config"
	"github.com/abihf/backdrop/segment"
	"github.com/abihf/backdrop/utils/thread"
	"github.com/abihf/backdrop/virtual"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// SourceCloser is a Source holding a device.
type SourceCloser interface {
	Source
	io.Closer
}

// SinkCloser is a Sink holding a device.
type SinkCloser interface {
	Sink
	io.Closer
}

// Devices opens the collaborators of a run. Tests swap in fakes.
type Devices struct {
	Segmentor func(cfg *config.Config) (segment.Segmentor, error)
	Source    func(cfg *config.Config, width, height int) (SourceCloser, error)
	Sink      func(cfg *config.Config, width, height int) (SinkCloser, error)
}

// SystemDevices opens the real model, camera and loopback device.
func SystemDevices() Devices {
	return Devices{
		Segmentor: func(cfg *config.Config) (segment.Segmentor, error) {
			net, err := segment.NewNet(cfg.ModelDir, segment.Model(cfg.Model))
			if err != nil {
				return nil, err
			}
			return net, nil
		},
		Source: func(cfg *config.Config, width, height int) (SourceCloser, error) {
			open, err := capture.Backend(cfg.Backend)
			if err != nil {
				return nil, err
			}
			src, err := capture.Open(open, &capture.Option{
				Device:    cfg.Physical,
				Width:     width,
				Height:    height,
				FrameRate: cfg.FrameRate,
				Codec:     cfg.Codec,
			})
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		Sink: func(cfg *config.Config, width, height int) (SinkCloser, error) {
			sink, err := virtual.Open(&virtual.Option{
				Device: cfg.Virtual,
				Width:  width,
				Height: height,
				FPS:    cfg.FrameRate,
				Format: cfg.OutputFormat,
			})
			if err != nil {
				return nil, err
			}
			return sink, nil
		},
	}
}

// Run loads the background, opens every device and pipes frames until ctx
// is done. Whatever was opened is closed on every return path.
// ready, if set, is called once the pipeline is about to start.
func Run(ctx context.Context, cfg *config.Config, devs Devices, log zerolog.Logger, stats *Stats, ready func()) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	bgr, err := background.LoadFile(cfg.Background)
	if err != nil {
		return err
	}
	defer bgr.Close()

	bg := gocv.NewMat()
	defer bg.Close()
	capture.ToRGB(bgr, &bg)
	width, height := bg.Cols(), bg.Rows()

	seg, err := devs.Segmentor(cfg)
	if err != nil {
		return errors.Wrap(err, "Can not initialize segmentation model")
	}
	defer seg.Close()

	transform, err := composite.Build(bg, seg, cfg.Threshold)
	if err != nil {
		return err
	}

	source, err := devs.Source(cfg, width, height)
	if err != nil {
		return err
	}
	defer source.Close()

	sink, err := devs.Sink(cfg, width, height)
	if err != nil {
		return err
	}
	defer sink.Close()

	if !cfg.Silent {
		log.Info().
			Int("width", width).
			Int("height", height).
			Int("frame_rate", cfg.FrameRate).
			Str("codec", cfg.Codec).
			Int("model", cfg.Model).
			Float64("threshold", cfg.Threshold).
			Msg(cfg.Summary(width, height))
	}

	if cfg.CPU >= 0 {
		release, err := thread.Pin(cfg.CPU)
		if err != nil {
			log.Warn().Err(err).Int("cpu", cfg.CPU).Msg("Can not pin pipeline to core")
		} else {
			defer release()
		}
	}

	if ready != nil {
		ready()
	}

	return Pipe(ctx, source, sink, transform, Options{
		RetryDelay: cfg.RetryDelay,
		ReportFPS:  !cfg.Silent,
		Log:        log,
		Stats:      stats,
	})
}
