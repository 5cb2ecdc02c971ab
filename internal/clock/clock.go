// Package clock abstracts wall-clock time so hold expiry and the 1 Hz
// sweep can be driven by a virtual clock in tests.
package clock

import "time"

// Clock is the subset of the time package used by the hold timers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker mirrors time.Ticker. C receives the clock's current time on each
// tick.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No more ticks are delivered after Stop.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stopFunc: t.Stop}
}
