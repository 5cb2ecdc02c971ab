// Package holdtimer ages seat holds.  Sweep is a pure function of the
// tracker and the supplied time, so it can be driven by a virtual clock;
// Run is the only recurring scheduler in the participant library.
package holdtimer

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

// Kind distinguishes whose hold expired.
type Kind int

const (
	OthersHoldExpired Kind = iota
	MyHoldExpired
)

func (k Kind) String() string {
	if k == MyHoldExpired {
		return "my-hold-expired"
	}
	return "others-hold-expired"
}

// Expiry reports a hold evicted by Sweep.
type Expiry struct {
	Kind Kind
	Seat int
}

// Countdown is the remaining hold time of one seat.
type Countdown struct {
	Seat      int
	Mine      bool
	Remaining time.Duration
}

// Sweep evicts every hold whose remaining time reached zero at now and
// returns the evictions, other participants' holds first, each group in
// ascending seat order.
func Sweep(t *seatmap.Tracker, now time.Time) []Expiry {
	var out []Expiry

	others := t.OthersHeld()
	expired := make([]int, 0, len(others))
	for n, h := range others {
		if model.HoldRemaining(h.SelectedAt, now) == 0 {
			expired = append(expired, n)
		}
	}
	sort.Ints(expired)
	for _, n := range expired {
		t.ReleaseHeldByOther(n)
		out = append(out, Expiry{Kind: OthersHoldExpired, Seat: n})
	}

	var mine []int
	for _, h := range t.MyHolds() {
		if h.Phase == seatmap.Committing {
			continue
		}
		if model.HoldRemaining(h.SelectedAt, now) == 0 {
			mine = append(mine, h.Seat.Number)
		}
	}
	sort.Ints(mine)
	for _, n := range mine {
		t.DeselectLocal(n)
		out = append(out, Expiry{Kind: MyHoldExpired, Seat: n})
	}
	return out
}

// Countdowns returns the remaining time of every held seat in ascending
// seat order, for countdown rendering.
func Countdowns(t *seatmap.Tracker, now time.Time) []Countdown {
	var out []Countdown
	for n, h := range t.OthersHeld() {
		out = append(out, Countdown{Seat: n, Remaining: model.HoldRemaining(h.SelectedAt, now)})
	}
	for _, h := range t.MyHolds() {
		out = append(out, Countdown{Seat: h.Seat.Number, Mine: true, Remaining: model.HoldRemaining(h.SelectedAt, now)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seat < out[j].Seat })
	return out
}

// Run calls fn with the clock's time once per interval until ctx is done.
func Run(ctx context.Context, clk clock.Clock, interval time.Duration, fn func(now time.Time)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}
