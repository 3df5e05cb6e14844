package backdrop

import (
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// Stats counts pipeline activity. It is safe to read while the pipeline runs.
type Stats struct {
	framesRead    atomic.Uint64
	failedReads   atomic.Uint64
	framesWritten atomic.Uint64
	fps           atomic.Uint64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) FramesRead() uint64    { return s.framesRead.Load() }
func (s *Stats) FailedReads() uint64   { return s.failedReads.Load() }
func (s *Stats) FramesWritten() uint64 { return s.framesWritten.Load() }

// FPS is the delivered frame rate over the last full second.
func (s *Stats) FPS() float64 {
	return math.Float64frombits(s.fps.Load())
}

func (s *Stats) setFPS(fps float64) {
	s.fps.Store(math.Float64bits(fps))
}

// Map renders the counters for the status protocol.
func (s *Stats) Map() map[string]string {
	return map[string]string{
		"frames_read":    strconv.FormatUint(s.FramesRead(), 10),
		"failed_reads":   strconv.FormatUint(s.FailedReads(), 10),
		"frames_written": strconv.FormatUint(s.FramesWritten(), 10),
		"fps":            strconv.FormatFloat(s.FPS(), 'f', 1, 64),
	}
}

// meter measures frames per second over one second windows.
type meter struct {
	start  time.Time
	frames int
}

func newMeter(now time.Time) *meter {
	return &meter{start: now}
}

func (m *meter) tick(now time.Time) (float64, bool) {
	m.frames++
	elapsed := now.Sub(m.start)
	if elapsed < time.Second {
		return 0, false
	}
	fps := float64(m.frames) / elapsed.Seconds()
	m.start = now
	m.frames = 0
	return fps, true
}
