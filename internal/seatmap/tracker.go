// Package seatmap keeps one participant's view of seat status for a single
// bus: which seats are booked, which are held by someone else and which the
// participant holds itself.
//
// A Tracker is not safe for concurrent use.  It is owned by the booking
// session loop, which applies user input, inbound sync events and timer
// ticks one at a time.
package seatmap

import (
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Phase tracks how far a local hold has progressed through arbitration.
type Phase int

const (
	// Tentative holds were sent to the coordination service but not yet
	// acknowledged; a SeatLocked reply rolls them back.
	Tentative Phase = iota
	// Held holds were acknowledged by the coordination service.
	Held
	// Committing holds are part of a booking this participant submitted.
	Committing
)

func (p Phase) String() string {
	switch p {
	case Tentative:
		return "tentative"
	case Held:
		return "held"
	case Committing:
		return "committing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Hold is a seat selected by the local participant.
type Hold struct {
	Seat       model.Seat
	SelectedAt time.Time
	Phase      Phase
}

// OtherHold is a seat held by a different participant.
type OtherHold struct {
	HolderID   string
	SelectedAt time.Time
}

// State is the derived status of a seat.
type State int

const (
	Available State = iota
	HeldByMe
	HeldByOther
	Booked
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case HeldByMe:
		return "held-by-me"
	case HeldByOther:
		return "held-by-other"
	case Booked:
		return "booked"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SeatStatus is the status of one seat.  HolderID and SelectedAt are set
// for the held states only.
type SeatStatus struct {
	State      State
	HolderID   string
	SelectedAt time.Time
}

// Tracker is the single source of truth for seat status within one
// bus-viewing session.
type Tracker struct {
	limit  int
	booked map[int]struct{}
	// deferred holds booked seats reported by a snapshot while the seat is
	// still held locally; they become booked when the local hold ends.
	deferred map[int]struct{}
	others   map[int]OtherHold
	mine     []Hold
	// precommit remembers the phase each hold had before MarkCommitting.
	precommit map[int]Phase
}

// New returns an empty tracker that allows at most limit local holds.
func New(limit int) *Tracker {
	if limit < 1 {
		limit = 1
	}
	return &Tracker{
		limit:    limit,
		booked:   make(map[int]struct{}),
		deferred:  make(map[int]struct{}),
		others:    make(map[int]OtherHold),
		precommit: make(map[int]Phase),
	}
}

// SetLimit changes the maximum number of local holds.  Existing holds above
// the new limit are kept; only further selections are rejected.
func (t *Tracker) SetLimit(n int) {
	if n < 1 {
		n = 1
	}
	t.limit = n
}

// Limit returns the current maximum number of local holds.
func (t *Tracker) Limit() int { return t.limit }

// ApplySnapshot replaces the booked set and the holds of other participants
// with an authoritative snapshot.  Booked seats are absorbing, so seats
// booked earlier in the session stay booked.  Local holds are left
// untouched: a snapshot entry that collides with one is skipped, and a
// booked entry for a locally held seat is deferred until the hold ends or a
// SeatsBooked event arrives.
func (t *Tracker) ApplySnapshot(booked []int, others map[int]OtherHold) {
	for _, n := range booked {
		if t.indexOf(n) >= 0 {
			t.deferred[n] = struct{}{}
			continue
		}
		t.booked[n] = struct{}{}
	}
	t.others = make(map[int]OtherHold, len(others))
	for n, h := range others {
		if t.IsBooked(n) || t.indexOf(n) >= 0 {
			continue
		}
		if _, ok := t.deferred[n]; ok {
			continue
		}
		t.others[n] = h
	}
}

// MarkHeldByOther records a hold by another participant.  It reports false
// and changes nothing when the seat is booked or held locally; the local
// hold wins until the coordination service rejects it.
func (t *Tracker) MarkHeldByOther(seat int, holderID string, selectedAt time.Time) bool {
	if t.IsBooked(seat) || t.indexOf(seat) >= 0 {
		return false
	}
	t.others[seat] = OtherHold{HolderID: holderID, SelectedAt: selectedAt}
	return true
}

// IsDeferred reports whether a snapshot listed seat as booked while it was
// held locally.
func (t *Tracker) IsDeferred(seat int) bool {
	_, ok := t.deferred[seat]
	return ok
}

// ReleaseHeldByOther forgets another participant's hold.  Idempotent.
func (t *Tracker) ReleaseHeldByOther(seat int) {
	delete(t.others, seat)
}

// MarkBooked converts seats to booked.  Local holds on those seats are
// removed; holds that were not part of this participant's own booking are
// returned so the caller can report the lost race.
func (t *Tracker) MarkBooked(seats []int) []Hold {
	var lost []Hold
	for _, n := range seats {
		delete(t.others, n)
		delete(t.deferred, n)
		if i := t.indexOf(n); i >= 0 {
			h := t.mine[i]
			t.removeAt(i)
			delete(t.precommit, n)
			if h.Phase != Committing {
				lost = append(lost, h)
			}
		}
		t.booked[n] = struct{}{}
	}
	return lost
}

// SelectLocal adds seat to the local holds as a tentative hold.  Selecting a
// seat that is already held locally succeeds without touching its
// selection time, so the hold TTL is never renewed.  The returned bool
// reports whether a new hold was created.
func (t *Tracker) SelectLocal(seat model.Seat, now time.Time) (Hold, bool, error) {
	n := seat.Number
	if t.IsBooked(n) {
		return Hold{}, false, ErrSeatUnavailable
	}
	if i := t.indexOf(n); i >= 0 {
		return t.mine[i], false, nil
	}
	if o, ok := t.others[n]; ok {
		if left := model.HoldRemaining(o.SelectedAt, now); left > 0 {
			return Hold{}, false, &SeatLockedError{Seat: n, Remaining: left}
		}
		delete(t.others, n)
	}
	if len(t.mine) >= t.limit {
		return Hold{}, false, ErrSelectionFull
	}
	h := Hold{Seat: seat, SelectedAt: now, Phase: Tentative}
	t.mine = append(t.mine, h)
	return h, true, nil
}

// DeselectLocal removes a local hold.  Removing an absent seat is a no-op.
func (t *Tracker) DeselectLocal(seat int) (Hold, bool) {
	i := t.indexOf(seat)
	if i < 0 {
		return Hold{}, false
	}
	h := t.mine[i]
	t.removeAt(i)
	delete(t.precommit, seat)
	if _, ok := t.deferred[seat]; ok {
		delete(t.deferred, seat)
		t.booked[seat] = struct{}{}
	}
	return h, true
}

// ConfirmLocal marks a tentative hold as acknowledged and adopts the
// selection time the coordination service stored for it, unless selectedAt
// is zero.  It reports whether the hold moved from tentative to held.
func (t *Tracker) ConfirmLocal(seat int, selectedAt time.Time) bool {
	i := t.indexOf(seat)
	if i < 0 || t.mine[i].Phase == Committing {
		return false
	}
	if !selectedAt.IsZero() {
		t.mine[i].SelectedAt = selectedAt
	}
	if t.mine[i].Phase != Tentative {
		return false
	}
	t.mine[i].Phase = Held
	return true
}

// RollbackLocal undoes an optimistic hold rejected by the coordination
// service.  Holds already being committed are not rolled back.
func (t *Tracker) RollbackLocal(seat int) (Hold, bool) {
	i := t.indexOf(seat)
	if i < 0 || t.mine[i].Phase == Committing {
		return Hold{}, false
	}
	return t.DeselectLocal(seat)
}

// Reassert moves a local hold back to tentative so a fresh arbitration
// result is applied to it.
func (t *Tracker) Reassert(seat int) bool {
	i := t.indexOf(seat)
	if i < 0 || t.mine[i].Phase == Committing {
		return false
	}
	t.mine[i].Phase = Tentative
	return true
}

// MarkCommitting flags every local hold as part of an outgoing booking.
func (t *Tracker) MarkCommitting() {
	for i, h := range t.mine {
		if h.Phase != Committing {
			t.precommit[h.Seat.Number] = h.Phase
		}
		t.mine[i].Phase = Committing
	}
}

// AbortCommit returns committing holds to the phase they had before
// MarkCommitting after the coordination service refused the booking.  A
// hold that was never acknowledged becomes tentative again.
func (t *Tracker) AbortCommit() {
	for i, h := range t.mine {
		if h.Phase != Committing {
			continue
		}
		prev, ok := t.precommit[h.Seat.Number]
		if !ok {
			prev = Held
		}
		t.mine[i].Phase = prev
		delete(t.precommit, h.Seat.Number)
	}
}

// Status derives the status of a seat.
func (t *Tracker) Status(seat int) SeatStatus {
	if i := t.indexOf(seat); i >= 0 {
		return SeatStatus{State: HeldByMe, SelectedAt: t.mine[i].SelectedAt}
	}
	if t.IsBooked(seat) {
		return SeatStatus{State: Booked}
	}
	if o, ok := t.others[seat]; ok {
		return SeatStatus{State: HeldByOther, HolderID: o.HolderID, SelectedAt: o.SelectedAt}
	}
	return SeatStatus{State: Available}
}

// IsBooked reports whether seat is booked.
func (t *Tracker) IsBooked(seat int) bool {
	_, ok := t.booked[seat]
	return ok
}

// MyHolds returns a copy of the local holds in selection order.
func (t *Tracker) MyHolds() []Hold {
	out := make([]Hold, len(t.mine))
	copy(out, t.mine)
	return out
}

// OthersHeld returns a copy of the holds of other participants.
func (t *Tracker) OthersHeld() map[int]OtherHold {
	out := make(map[int]OtherHold, len(t.others))
	for n, h := range t.others {
		out[n] = h
	}
	return out
}

// Booked returns the booked seat numbers in ascending order.
func (t *Tracker) Booked() []int {
	out := make([]int, 0, len(t.booked))
	for n := range t.booked {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (t *Tracker) indexOf(seat int) int {
	for i, h := range t.mine {
		if h.Seat.Number == seat {
			return i
		}
	}
	return -1
}

func (t *Tracker) removeAt(i int) {
	t.mine = append(t.mine[:i], t.mine[i+1:]...)
}
