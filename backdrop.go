// Package backdrop pipes a physical camera into a virtual one with the
// background replaced by a still image.
package backdrop

import (
	"context"
	"time"

	"github.com/abihf/backdrop/capture"
	"github.com/abihf/backdrop/composite"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// Source yields BGR frames. ReadFrame returns an error for a cycle without a
// usable frame; the pipeline retries.
type Source interface {
	ReadFrame(dst *gocv.Mat) error
}

// Sink accepts RGB frames and paces the loop.
type Sink interface {
	WriteFrame(rgb gocv.Mat) error
	PacedWait()
}

type Options struct {
	// RetryDelay is slept after a failed read. Zero retries at once.
	RetryDelay time.Duration
	// ReportFPS logs the delivered frame rate once per second.
	ReportFPS bool
	Log       zerolog.Logger
	Stats     *Stats
}

// Pipe runs the read, convert, composite, write, pace loop until ctx is
// done. Failed reads are retried without limit. It returns nil when ctx is
// cancelled and an error only when compositing or writing fails.
func Pipe(ctx context.Context, source Source, sink Sink, transform composite.Func, opt Options) error {
	stats := opt.Stats
	if stats == nil {
		stats = NewStats()
	}
	log := opt.Log.With().Str("component", "pipeline").Logger()

	frame := gocv.NewMat()
	defer frame.Close()
	rgb := gocv.NewMat()
	defer rgb.Close()

	meter := newMeter(time.Now())

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := source.ReadFrame(&frame); err != nil {
			stats.failedReads.Add(1)
			if !errors.Is(err, capture.ErrNoFrame) {
				log.Debug().Err(err).Msg("Frame read failed")
			}
			if !sleep(ctx, opt.RetryDelay) {
				return nil
			}
			continue
		}
		stats.framesRead.Add(1)

		capture.ToRGB(frame, &rgb)

		out, err := transform(rgb)
		if err != nil {
			out.Close()
			return errors.Wrap(err, "Can not composite frame")
		}
		err = sink.WriteFrame(out)
		out.Close()
		if err != nil {
			return errors.Wrap(err, "Can not write frame")
		}
		stats.framesWritten.Add(1)

		sink.PacedWait()

		if fps, ok := meter.tick(time.Now()); ok {
			stats.setFPS(fps)
			if opt.ReportFPS {
				log.Info().Float64("fps", fps).Msg("Delivering frames")
			}
		}
	}
}

// sleep waits d or until ctx is done, reporting whether the loop should go on.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
