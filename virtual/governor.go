package virtual

import "time"

// Clock is the time source of a Governor.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Governor holds a loop to a fixed rate. Each Wait returns one interval
// after the previous one; a caller that is already late is not made to catch
// up with a burst of short waits.
type Governor struct {
	interval time.Duration
	clock    Clock
	last     time.Time
	started  bool
}

func NewGovernor(fps int, clock Clock) *Governor {
	if clock == nil {
		clock = systemClock{}
	}
	return &Governor{
		interval: time.Second / time.Duration(fps),
		clock:    clock,
	}
}

// Wait blocks until one interval has passed since the previous Wait. The
// first call returns immediately.
func (g *Governor) Wait() {
	now := g.clock.Now()
	if !g.started {
		g.started = true
		g.last = now
		return
	}

	next := g.last.Add(g.interval)
	if d := next.Sub(now); d > 0 {
		g.clock.Sleep(d)
		g.last = next
		return
	}
	g.last = now
}

func (g *Governor) Interval() time.Duration {
	return g.interval
}
