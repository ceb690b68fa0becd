package engine

import "time"

// Clock abstracts wall time so the engine's deadlines can be driven
// deterministically in tests. The production implementation delegates to
// the runtime; tests advance a fake clock by hand.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Wake returns a channel that delivers one tick once the clock
	// reaches t. A time at or before Now fires immediately. Stale wake
	// channels from earlier deadlines may still fire later; consumers
	// must re-check deadlines against Now rather than trust the tick.
	Wake(t time.Time) <-chan time.Time
}

type systemClock struct{}

// NewSystemClock returns the Clock used outside of tests.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Wake(t time.Time) <-chan time.Time {
	d := time.Until(t)
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return time.After(d)
}
