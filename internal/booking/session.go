// Package booking is the participant-side controller of one seat
// selection session.  It enforces one held seat per passenger, prices the
// selection and hands completed selections to checkout.
//
// All state lives on a single logical thread: Run multiplexes channel
// events, user commands posted with Do or Submit, and hold timer ticks.
// The exported mutators may be called directly only from that thread or
// before Run starts.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/holdtimer"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/protocol"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
	"github.com/iliyamo/bus-seat-reservation/internal/syncclient"
)

// ErrStopped is returned by Do and Submit after Run returned.
var ErrStopped = errors.New("booking session stopped")

// Sender delivers messages to the coordination service.
// *syncclient.Channel satisfies it.
type Sender interface {
	Send(m protocol.Message) error
}

// Config wires a session.
type Config struct {
	Bus            model.Bus
	Seats          []model.Seat
	UserID         string
	PassengerCount int

	Sender   Sender
	Checkout Checkout
	Clock    clock.Clock
	Notify   func(Notice)
	// TickInterval is the hold timer period (default 1s).
	TickInterval time.Duration
}

// Session is one participant's seat selection for one bus.
type Session struct {
	bus       model.Bus
	layout    []model.Seat
	seats     map[int]model.Seat
	userID string
	// self is the public holder id of this session, learned from the
	// latest snapshot.
	self string

	passengers int
	tracker    *seatmap.Tracker

	sender   Sender
	checkout Checkout
	clk      clock.Clock
	notify   func(Notice)
	interval time.Duration

	connected bool
	readOnly  bool

	cmds chan func()
	done chan struct{}
}

// New builds a session.  The session starts disconnected; the first
// Connected channel event enables selections.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Notify == nil {
		cfg.Notify = func(Notice) {}
	}
	if cfg.UserID == "" {
		cfg.UserID = "anonymous"
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	s := &Session{
		bus:       cfg.Bus,
		layout:    append([]model.Seat(nil), cfg.Seats...),
		seats:     make(map[int]model.Seat, len(cfg.Seats)),
		userID:   cfg.UserID,
		sender:   cfg.Sender,
		checkout: cfg.Checkout,
		clk:      cfg.Clock,
		notify:   cfg.Notify,
		interval: cfg.TickInterval,
		cmds:     make(chan func()),
		done:     make(chan struct{}),
	}
	for _, seat := range cfg.Seats {
		s.seats[seat.Number] = seat
	}
	s.passengers = s.clampPassengers(cfg.PassengerCount)
	s.tracker = seatmap.New(s.passengers)
	return s
}

// Run drives the session until ctx is done.  A closed events channel is
// treated as a lost connection.
func (s *Session) Run(ctx context.Context, events <-chan syncclient.Event) error {
	defer close(s.done)
	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				if !s.readOnly {
					s.HandleChannelEvent(syncclient.ConnectionLost{Err: ErrConnection})
				}
				continue
			}
			s.HandleChannelEvent(ev)
		case fn := <-s.cmds:
			fn()
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Do runs fn on the session thread and returns its error.
func (s *Session) Do(ctx context.Context, fn func(*Session) error) error {
	errc := make(chan error, 1)
	if err := s.Submit(ctx, func(s *Session) { errc <- fn(s) }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit posts fn onto the session thread without waiting for it to run.
func (s *Session) Submit(ctx context.Context, fn func(*Session)) error {
	select {
	case s.cmds <- func() { fn(s) }:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPassengerCount clamps n to [1, availableSeats] and returns the applied
// value.  Holds above the new count are kept; checkout stays blocked until
// the user deselects.
func (s *Session) SetPassengerCount(n int) int {
	s.passengers = s.clampPassengers(n)
	s.tracker.SetLimit(s.passengers)
	return s.passengers
}

// PassengerCount returns the current passenger count.
func (s *Session) PassengerCount() int { return s.passengers }

// SelectSeat optimistically holds a seat and asks the coordination service
// to confirm it.
func (s *Session) SelectSeat(n int) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if !s.connected {
		return ErrConnection
	}
	seat, ok := s.seats[n]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSeat, n)
	}
	_, added, err := s.tracker.SelectLocal(seat, s.clk.Now())
	if err != nil || !added {
		return err
	}
	msg := protocol.SelectSeat{BusID: s.bus.ID, SeatNumber: n, Action: protocol.ActionSelect, UserID: s.userID}
	if err := s.sender.Send(msg); err != nil {
		s.tracker.RollbackLocal(n)
		return err
	}
	return nil
}

// DeselectSeat releases a local hold.  Deselecting a seat that is not held
// is a no-op.
func (s *Session) DeselectSeat(n int) error {
	if _, ok := s.tracker.DeselectLocal(n); ok {
		s.sendDeselect(n)
	}
	return nil
}

// CanProceed reports whether exactly one seat is held per passenger.
func (s *Session) CanProceed() bool {
	return len(s.tracker.MyHolds()) == s.passengers
}

// TotalPrice returns the price of the held seats.
func (s *Session) TotalPrice() int64 {
	return TotalPrice(s.bus, s.heldSeats())
}

// Proceed commits the held seats and hands them to checkout.
func (s *Session) Proceed(ctx context.Context) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if !s.CanProceed() {
		return fmt.Errorf("%w: %d of %d seats selected", ErrIncompleteSelection, len(s.tracker.MyHolds()), s.passengers)
	}
	if !s.connected {
		return ErrConnection
	}
	order := Order{Bus: s.bus, Seats: s.heldSeats(), PassengerCount: s.passengers}
	order.TotalPrice = TotalPrice(s.bus, order.Seats)

	s.tracker.MarkCommitting()
	if err := s.sender.Send(protocol.BookingCompleted{BusID: s.bus.ID, BookedSeats: order.SeatNumbers()}); err != nil {
		s.tracker.AbortCommit()
		return err
	}
	if s.checkout == nil {
		return nil
	}
	return s.checkout.Handoff(ctx, order)
}

// Leave releases every hold explicitly and leaves the bus.
func (s *Session) Leave() {
	for _, h := range s.tracker.MyHolds() {
		if h.Phase == seatmap.Committing {
			continue
		}
		s.tracker.DeselectLocal(h.Seat.Number)
		s.sendDeselect(h.Seat.Number)
	}
	if s.connected {
		if err := s.sender.Send(protocol.LeaveBus{BusID: s.bus.ID}); err != nil {
			log.Printf("booking: leave bus %s: %v", s.bus.ID, err)
		}
	}
}

// Tick ages every hold.  Own expired holds are reported and released on the
// server as well.
func (s *Session) Tick(now time.Time) {
	var released []int
	for _, e := range holdtimer.Sweep(s.tracker, now) {
		switch e.Kind {
		case holdtimer.OthersHoldExpired:
			released = append(released, e.Seat)
		case holdtimer.MyHoldExpired:
			s.sendDeselect(e.Seat)
			s.notify(HoldExpired{Seat: e.Seat})
		}
	}
	if len(released) > 0 {
		s.notify(OthersReleased{Seats: released})
	}
}

// HandleChannelEvent applies one event from the seat channel.
func (s *Session) HandleChannelEvent(ev syncclient.Event) {
	switch ev := ev.(type) {
	case syncclient.Connected:
		s.connected = true
		s.notify(ConnectionState{Connected: true})
	case syncclient.Disconnected:
		s.connected = false
		s.notify(ConnectionState{Connected: false, Err: ev.Err})
	case syncclient.ConnectionLost:
		s.connected = false
		s.readOnly = true
		s.notify(ConnectionState{Connected: false, ReadOnly: true, Err: ev.Err})
	case syncclient.Inbound:
		s.HandleMessage(ev.Message)
	default:
		log.Printf("booking: unhandled channel event %T", ev)
	}
}

// HandleMessage applies one message from the coordination service.
func (s *Session) HandleMessage(m protocol.Message) {
	switch m := m.(type) {
	case protocol.SeatStatus:
		s.applySnapshot(m)
	case protocol.SeatSelected:
		if !s.isSelf(m.HolderID) {
			s.tracker.MarkHeldByOther(m.SeatNumber, m.HolderID, m.SelectedAt)
		}
	case protocol.SeatDeselected:
		s.tracker.ReleaseHeldByOther(m.SeatNumber)
	case protocol.SeatsBooked:
		s.applyBooked(m.BookedSeats)
	case protocol.SeatsExpired:
		// own holds end only through YourSeatExpired or the local timer
		for _, n := range m.Seats {
			s.tracker.ReleaseHeldByOther(n)
		}
	case protocol.YourSeatExpired:
		s.expireOwn(m.SeatNumber, m.SelectedAt)
	case protocol.SeatLocked:
		if _, ok := s.tracker.RollbackLocal(m.SeatNumber); !ok {
			return
		}
		if m.HolderID != "" {
			s.tracker.MarkHeldByOther(m.SeatNumber, m.HolderID, m.SelectedAt)
		}
		s.notify(Rejected{
			Seat: m.SeatNumber,
			Err:  &seatmap.SeatLockedError{Seat: m.SeatNumber, Remaining: time.Duration(m.TimeLeft) * time.Second},
		})
	case protocol.SeatUnavailable:
		_, held := s.tracker.RollbackLocal(m.SeatNumber)
		s.tracker.MarkBooked([]int{m.SeatNumber})
		if held {
			s.notify(Rejected{Seat: m.SeatNumber, Err: ErrSeatUnavailable})
		}
	case protocol.SeatHeld:
		s.tracker.ConfirmLocal(m.SeatNumber, m.SelectedAt)
	case protocol.Error:
		s.tracker.AbortCommit()
		if m.SeatNumber > 0 {
			if _, ok := s.tracker.RollbackLocal(m.SeatNumber); ok {
				s.notify(Rejected{Seat: m.SeatNumber, Err: fmt.Errorf("%w: %s", ErrSelectionFailed, m.Message)})
			}
		}
		s.notify(ServerError{Code: m.Code, Message: m.Message})
	case protocol.JoinBus, protocol.LeaveBus, protocol.SelectSeat, protocol.BookingCompleted:
		log.Printf("booking: ignoring client message %s from server", m.Type())
	default:
		log.Printf("booking: unhandled message %T", m)
	}
}

// Status returns the status of one seat.
func (s *Session) Status(n int) seatmap.SeatStatus { return s.tracker.Status(n) }

// MyHolds returns the participant's holds in selection order.
func (s *Session) MyHolds() []seatmap.Hold { return s.tracker.MyHolds() }

// Countdowns returns the remaining time of every held seat.
func (s *Session) Countdowns() []holdtimer.Countdown {
	return holdtimer.Countdowns(s.tracker, s.clk.Now())
}

// Layout returns the seats of the bus in layout order.
func (s *Session) Layout() []model.Seat { return append([]model.Seat(nil), s.layout...) }

// Bus returns the bus being booked.
func (s *Session) Bus() model.Bus { return s.bus }

// Connected reports whether selections are currently possible.
func (s *Session) Connected() bool { return s.connected && !s.readOnly }

// ReadOnly reports whether the session gave up reconnecting.
func (s *Session) ReadOnly() bool { return s.readOnly }

// applySnapshot replaces the view of booked seats and other holders.  Own
// holds survive it: a booked entry for one of them stays deferred until
// SeatsBooked, SeatUnavailable or the end of the hold settles it.
func (s *Session) applySnapshot(m protocol.SeatStatus) {
	s.self = m.Self
	serverMine := make(map[int]time.Time)
	others := make(map[int]seatmap.OtherHold, len(m.Held))
	for _, h := range m.Held {
		if s.isSelf(h.HolderID) {
			serverMine[h.SeatNumber] = h.SelectedAt
			continue
		}
		others[h.SeatNumber] = seatmap.OtherHold{HolderID: h.HolderID, SelectedAt: h.SelectedAt}
	}
	s.tracker.ApplySnapshot(m.BookedSeats, others)

	// a booking that committed while offline leaves its seats booked and
	// deferred; any other missing committing hold means it failed
	committingGone := false
	for _, h := range s.tracker.MyHolds() {
		n := h.Seat.Number
		if _, ok := serverMine[n]; h.Phase == seatmap.Committing && !ok && !s.tracker.IsDeferred(n) {
			committingGone = true
		}
	}
	if committingGone {
		s.tracker.AbortCommit()
	}

	s.Tick(s.clk.Now())

	var reasserted []int
	for _, h := range s.tracker.MyHolds() {
		n := h.Seat.Number
		if at, ok := serverMine[n]; ok {
			s.tracker.ConfirmLocal(n, at)
			delete(serverMine, n)
			continue
		}
		if !s.tracker.Reassert(n) {
			continue
		}
		at := h.SelectedAt
		msg := protocol.SelectSeat{BusID: s.bus.ID, SeatNumber: n, Action: protocol.ActionSelect, UserID: s.userID, SelectedAt: &at}
		if err := s.sender.Send(msg); err != nil {
			log.Printf("booking: re-assert seat %d: %v", n, err)
			continue
		}
		reasserted = append(reasserted, n)
	}
	// holds the server still attributes to this session but the session
	// already dropped
	stale := make([]int, 0, len(serverMine))
	for n := range serverMine {
		stale = append(stale, n)
	}
	sort.Ints(stale)
	for _, n := range stale {
		s.sendDeselect(n)
	}
	s.notify(Synced{Reasserted: reasserted})
}

func (s *Session) applyBooked(seats []int) {
	mine := make(map[int]seatmap.Phase)
	for _, h := range s.tracker.MyHolds() {
		mine[h.Seat.Number] = h.Phase
	}
	lost := s.tracker.MarkBooked(seats)
	var own []int
	for _, n := range seats {
		if p, ok := mine[n]; ok && p == seatmap.Committing {
			own = append(own, n)
		}
	}
	if len(own) > 0 {
		s.notify(Booked{Seats: own})
	}
	if len(lost) > 0 {
		nums := make([]int, len(lost))
		for i, h := range lost {
			nums[i] = h.Seat.Number
		}
		s.notify(RaceLost{Seats: nums})
	}
}

// expireOwn ends the local hold on seat n when the server expired it.  A
// local hold selected after the expired one is a newer hold and is kept.
func (s *Session) expireOwn(n int, selectedAt time.Time) {
	for _, h := range s.tracker.MyHolds() {
		if h.Seat.Number != n {
			continue
		}
		if !selectedAt.IsZero() && h.SelectedAt.After(selectedAt) {
			return
		}
		s.tracker.DeselectLocal(n)
		s.notify(HoldExpired{Seat: n})
		return
	}
}

func (s *Session) isSelf(holderID string) bool {
	return s.self != "" && holderID == s.self
}

func (s *Session) sendDeselect(n int) {
	if !s.connected {
		return
	}
	msg := protocol.SelectSeat{BusID: s.bus.ID, SeatNumber: n, Action: protocol.ActionDeselect, UserID: s.userID}
	if err := s.sender.Send(msg); err != nil {
		log.Printf("booking: deselect seat %d: %v", n, err)
	}
}

func (s *Session) heldSeats() []model.Seat {
	holds := s.tracker.MyHolds()
	out := make([]model.Seat, len(holds))
	for i, h := range holds {
		out[i] = h.Seat
	}
	return out
}

func (s *Session) clampPassengers(n int) int {
	upper := s.bus.AvailableSeats
	if upper < 1 {
		upper = 1
	}
	if n < 1 {
		return 1
	}
	if n > upper {
		return upper
	}
	return n
}
