// Package coordinator is the authoritative side of the seat channel.  The
// Hub groups connections into one room per bus, arbitrates SelectSeat
// requests against the hold table, commits bookings, and releases holds
// on expiry and on disconnect.
package coordinator

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/holdtimer"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/protocol"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// Config wires a Hub.  Holds and Bookings are required; Catalog and
// Publisher are optional.
type Config struct {
	Holds     HoldStore
	Bookings  BookingStore
	Catalog   Catalog
	Publisher Publisher
	Clock     clock.Clock
	// SendBuffer is the per-connection outbound queue length (default 64).
	// A connection whose queue overflows is dropped.
	SendBuffer int
	// HolderKey signs public holder ids.  Processes sharing a hold store
	// must share the key; a random key is drawn when it is empty.
	HolderKey []byte
}

// Hub coordinates every bus room of this process.
type Hub struct {
	holds     HoldStore
	bookings  BookingStore
	catalog   Catalog
	publisher Publisher
	clk       clock.Clock
	bufSize   int
	key       []byte

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	busID   string
	mu      sync.Mutex // serialises arbitration for the bus
	members map[*Client]struct{}
}

// Client is one connection registered with the hub.
type Client struct {
	ID     string
	UserID string

	send chan protocol.Message

	mu        sync.Mutex
	sessionID string
	busID     string
	closed    bool
}

// NewHub builds a hub.
func NewHub(cfg Config) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if len(cfg.HolderKey) == 0 {
		cfg.HolderKey = make([]byte, 32)
		if _, err := rand.Read(cfg.HolderKey); err != nil {
			panic(fmt.Sprintf("hub: holder key: %v", err))
		}
	}
	return &Hub{
		holds:     cfg.Holds,
		bookings:  cfg.Bookings,
		catalog:   cfg.Catalog,
		publisher: cfg.Publisher,
		clk:       cfg.Clock,
		bufSize:   cfg.SendBuffer,
		key:       cfg.HolderKey,
		rooms:     make(map[string]*room),
	}
}

// PublicHolderID is the holder id announced to the room for a session.
// Session ids own holds and are never sent to other participants.
func (h *Hub) PublicHolderID(sessionID string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil)[:12])
}

// Register creates a client for a new connection.
func (h *Hub) Register(userID string) *Client {
	if userID == "" {
		userID = "anonymous"
	}
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		send:   make(chan protocol.Message, h.bufSize),
	}
}

// Outbound is the queue drained by the connection's writer.  It is closed
// when the client disconnects.
func (c *Client) Outbound() <-chan protocol.Message { return c.send }

// SessionID returns the secret hold owner id announced in JoinBus.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) joined() (busID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busID, c.sessionID
}

// deliver enqueues m without blocking.  It reports false when the client is
// gone or its queue is full.
func (c *Client) deliver(m protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- m:
		return true
	default:
		c.closed = true
		close(c.send)
		log.Printf("hub: dropping slow client %s", c.ID)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Rooms returns the ids of every bus joined since the hub started.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Handle applies one message received from c.
func (h *Hub) Handle(ctx context.Context, c *Client, m protocol.Message) {
	switch m := m.(type) {
	case protocol.JoinBus:
		h.join(ctx, c, m)
	case protocol.LeaveBus:
		h.leave(ctx, c)
	case protocol.SelectSeat:
		switch m.Action {
		case protocol.ActionSelect:
			h.selectSeat(ctx, c, m)
		case protocol.ActionDeselect:
			h.deselectSeat(ctx, c, m)
		default:
			c.deliver(protocol.Error{Code: protocol.CodeBadRequest, Message: fmt.Sprintf("unknown action %q", m.Action)})
		}
	case protocol.BookingCompleted:
		h.commit(ctx, c, m)
	default:
		c.deliver(protocol.Error{Code: protocol.CodeBadRequest, Message: fmt.Sprintf("unexpected message %s", m.Type())})
	}
}

// Disconnect releases the client's holds and removes it from its room.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	h.leave(ctx, c)
	c.close()
}

// Sweep expires holds in every room at now.  The room learns the seats via
// SeatsExpired; each holder also receives YourSeatExpired.
func (h *Hub) Sweep(ctx context.Context, now time.Time) {
	for _, busID := range h.Rooms() {
		r := h.room(busID, false)
		if r == nil {
			continue
		}
		r.mu.Lock()
		expired, err := h.holds.Expire(ctx, busID, now)
		if err != nil {
			log.Printf("hub: expire holds of bus %s: %v", busID, err)
			r.mu.Unlock()
			continue
		}
		if len(expired) > 0 {
			seats := make([]int, len(expired))
			byHolder := make(map[string][]Hold)
			for i, hold := range expired {
				seats[i] = hold.Seat
				byHolder[hold.HolderID] = append(byHolder[hold.HolderID], hold)
			}
			h.broadcast(r, nil, protocol.SeatsExpired{Seats: seats})
			for m := range r.members {
				for _, hold := range byHolder[m.SessionID()] {
					m.deliver(protocol.YourSeatExpired{SeatNumber: hold.Seat, SelectedAt: hold.SelectedAt})
				}
			}
		}
		r.mu.Unlock()
	}
}

// RunSweeper sweeps once per interval until ctx is done.
func (h *Hub) RunSweeper(ctx context.Context, interval time.Duration) {
	holdtimer.Run(ctx, h.clk, interval, func(now time.Time) { h.Sweep(ctx, now) })
}

func (h *Hub) join(ctx context.Context, c *Client, m protocol.JoinBus) {
	if m.BusID == "" {
		c.deliver(protocol.Error{Code: protocol.CodeBadRequest, Message: "busId is required"})
		return
	}
	if h.catalog != nil {
		if _, _, err := h.catalog.Layout(ctx, m.BusID); err != nil {
			if errors.Is(err, repository.ErrBusNotFound) {
				c.deliver(protocol.Error{Code: protocol.CodeBusNotFound, Message: "bus not found"})
				return
			}
			log.Printf("hub: layout of bus %s: %v", m.BusID, err)
		}
	}
	cur, _ := c.joined()
	if cur == m.BusID {
		h.resync(ctx, c, m.BusID)
		return
	}
	sessionID := m.SessionID
	if sessionID == "" {
		sessionID = c.ID
	}
	if h.sessionTaken(ctx, m.BusID, sessionID, c.UserID) {
		c.deliver(protocol.Error{Code: protocol.CodeSessionConflict, Message: "session belongs to another user"})
		return
	}
	if cur != "" {
		h.leave(ctx, c)
	}

	c.mu.Lock()
	c.busID = m.BusID
	c.sessionID = sessionID
	c.mu.Unlock()

	r := h.room(m.BusID, true)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[c] = struct{}{}

	h.sendSnapshot(ctx, c, m.BusID)
}

// sessionTaken reports whether sessionID already holds seats, or is
// joined, on behalf of a user other than userID.
func (h *Hub) sessionTaken(ctx context.Context, busID, sessionID, userID string) bool {
	if r := h.room(busID, false); r != nil {
		r.mu.Lock()
		for m := range r.members {
			if m.SessionID() == sessionID && m.UserID != userID {
				r.mu.Unlock()
				return true
			}
		}
		r.mu.Unlock()
	}
	holds, err := h.holds.Holds(ctx, busID)
	if err != nil {
		log.Printf("hub: holds of bus %s: %v", busID, err)
		return false
	}
	for _, hold := range holds {
		if hold.HolderID == sessionID && hold.UserID != userID {
			return true
		}
	}
	return false
}

// resync answers a repeated JoinBus for the same bus with a fresh snapshot.
func (h *Hub) resync(ctx context.Context, c *Client, busID string) {
	r := h.room(busID, true)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[c] = struct{}{}
	h.sendSnapshot(ctx, c, busID)
}

func (h *Hub) sendSnapshot(ctx context.Context, c *Client, busID string) {
	snap, err := h.snapshot(ctx, busID)
	if err != nil {
		log.Printf("hub: snapshot of bus %s: %v", busID, err)
		c.deliver(protocol.Error{Code: protocol.CodeInternal, Message: "seat status unavailable"})
		return
	}
	snap.Self = h.PublicHolderID(c.SessionID())
	c.deliver(snap)
}

func (h *Hub) snapshot(ctx context.Context, busID string) (protocol.SeatStatus, error) {
	booked, err := h.bookings.BookedSeats(ctx, busID)
	if err != nil {
		return protocol.SeatStatus{}, err
	}
	holds, err := h.holds.Holds(ctx, busID)
	if err != nil {
		return protocol.SeatStatus{}, err
	}
	now := h.clk.Now()
	snap := protocol.SeatStatus{BusID: busID, BookedSeats: booked, Held: []protocol.HeldSeat{}}
	if snap.BookedSeats == nil {
		snap.BookedSeats = []int{}
	}
	for _, hold := range holds {
		if model.HoldRemaining(hold.SelectedAt, now) == 0 {
			continue
		}
		snap.Held = append(snap.Held, protocol.HeldSeat{SeatNumber: hold.Seat, HolderID: h.PublicHolderID(hold.HolderID), SelectedAt: hold.SelectedAt})
	}
	return snap, nil
}

// leave releases the session's holds unless another connection of the
// same session is still in the room.
func (h *Hub) leave(ctx context.Context, c *Client) {
	busID, sessionID := c.joined()
	if busID == "" {
		return
	}
	c.mu.Lock()
	c.busID = ""
	c.mu.Unlock()

	r := h.room(busID, false)
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.members, c)
	shared := false
	for m := range r.members {
		if m.SessionID() == sessionID {
			shared = true
			break
		}
	}
	if !shared {
		seats, err := h.holds.ReleaseHolder(ctx, busID, sessionID)
		if err != nil {
			log.Printf("hub: release holds of %s on bus %s: %v", sessionID, busID, err)
		}
		for _, n := range seats {
			h.broadcast(r, nil, protocol.SeatDeselected{SeatNumber: n})
		}
	}
	r.mu.Unlock()
}

func (h *Hub) selectSeat(ctx context.Context, c *Client, m protocol.SelectSeat) {
	r, sessionID, ok := h.memberRoom(c, m.BusID)
	if !ok {
		return
	}
	unknown := protocol.Error{Code: protocol.CodeUnknownSeat, Message: fmt.Sprintf("seat %d does not exist", m.SeatNumber), SeatNumber: m.SeatNumber}
	if m.SeatNumber < 1 {
		c.deliver(unknown)
		return
	}
	if h.catalog != nil {
		if _, seats, err := h.catalog.Layout(ctx, m.BusID); err == nil && !hasSeat(seats, m.SeatNumber) {
			c.deliver(unknown)
			return
		}
	}

	now := h.clk.Now()
	selectedAt := now
	if m.SelectedAt != nil {
		// re-assertion after a reconnect can only shorten a hold
		if m.SelectedAt.Before(now) {
			selectedAt = *m.SelectedAt
		}
		if model.HoldRemaining(selectedAt, now) == 0 {
			c.deliver(protocol.YourSeatExpired{SeatNumber: m.SeatNumber, SelectedAt: selectedAt})
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	booked, err := h.bookings.BookedSeats(ctx, m.BusID)
	if err != nil {
		log.Printf("hub: booked seats of bus %s: %v", m.BusID, err)
		c.deliver(protocol.Error{Code: protocol.CodeInternal, Message: "seat status unavailable", SeatNumber: m.SeatNumber})
		return
	}
	if containsSeat(booked, m.SeatNumber) {
		c.deliver(protocol.SeatUnavailable{SeatNumber: m.SeatNumber})
		return
	}

	hold := Hold{Seat: m.SeatNumber, HolderID: sessionID, UserID: c.UserID, SelectedAt: selectedAt}
	stored, status, err := h.holds.Acquire(ctx, m.BusID, hold, now)
	if err != nil {
		log.Printf("hub: acquire seat %d on bus %s: %v", m.SeatNumber, m.BusID, err)
		c.deliver(protocol.Error{Code: protocol.CodeInternal, Message: "seat selection failed", SeatNumber: m.SeatNumber})
		return
	}
	switch status {
	case Locked:
		left := model.HoldRemaining(stored.SelectedAt, now)
		c.deliver(protocol.SeatLocked{
			SeatNumber: m.SeatNumber,
			TimeLeft:   int(math.Ceil(left.Seconds())),
			HolderID:   h.PublicHolderID(stored.HolderID),
			SelectedAt: stored.SelectedAt,
		})
	case AlreadyHeld:
		c.deliver(protocol.SeatHeld{SeatNumber: m.SeatNumber, SelectedAt: stored.SelectedAt})
	case Acquired:
		c.deliver(protocol.SeatHeld{SeatNumber: m.SeatNumber, SelectedAt: stored.SelectedAt})
		h.broadcast(r, c, protocol.SeatSelected{SeatNumber: m.SeatNumber, HolderID: h.PublicHolderID(sessionID), SelectedAt: stored.SelectedAt})
	}
}

func (h *Hub) deselectSeat(ctx context.Context, c *Client, m protocol.SelectSeat) {
	r, sessionID, ok := h.memberRoom(c, m.BusID)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	released, err := h.holds.Release(ctx, m.BusID, m.SeatNumber, sessionID)
	if err != nil {
		log.Printf("hub: release seat %d on bus %s: %v", m.SeatNumber, m.BusID, err)
		return
	}
	if released {
		h.broadcast(r, c, protocol.SeatDeselected{SeatNumber: m.SeatNumber})
	}
}

func (h *Hub) commit(ctx context.Context, c *Client, m protocol.BookingCompleted) {
	r, sessionID, ok := h.memberRoom(c, m.BusID)
	if !ok {
		return
	}
	if len(m.BookedSeats) == 0 {
		c.deliver(protocol.Error{Code: protocol.CodeBadRequest, Message: "bookedSeats is empty"})
		return
	}
	if n, dup := repeatedSeat(m.BookedSeats); dup {
		c.deliver(protocol.Error{Code: protocol.CodeBadRequest, Message: fmt.Sprintf("seat %d listed twice", n), SeatNumber: n})
		return
	}

	var bus model.Bus
	var layout []model.Seat
	if h.catalog != nil {
		var err error
		if bus, layout, err = h.catalog.Layout(ctx, m.BusID); err != nil {
			log.Printf("hub: layout of bus %s: %v", m.BusID, err)
		}
	}

	r.mu.Lock()
	now := h.clk.Now()
	holds, err := h.holds.Holds(ctx, m.BusID)
	if err != nil {
		r.mu.Unlock()
		log.Printf("hub: holds of bus %s: %v", m.BusID, err)
		c.deliver(protocol.Error{Code: protocol.CodeInternal, Message: "booking failed"})
		return
	}
	mine := make(map[int]bool)
	for _, hold := range holds {
		if hold.HolderID == sessionID && model.HoldRemaining(hold.SelectedAt, now) > 0 {
			mine[hold.Seat] = true
		}
	}
	for _, n := range m.BookedSeats {
		if !mine[n] {
			r.mu.Unlock()
			c.deliver(protocol.Error{Code: protocol.CodeSeatsNotHeld, Message: fmt.Sprintf("%v: seat %d", repository.ErrSeatsNotHeld, n), SeatNumber: n})
			return
		}
	}

	b := model.Booking{
		Reference:  uuid.NewString(),
		BusID:      m.BusID,
		UserID:     c.UserID,
		HolderID:   h.PublicHolderID(sessionID),
		Seats:      append([]int(nil), m.BookedSeats...),
		TotalPrice: priceSeats(bus, layout, m.BookedSeats),
		CreatedAt:  now.UTC(),
	}
	if err := h.bookings.Commit(ctx, &b); err != nil {
		r.mu.Unlock()
		if errors.Is(err, repository.ErrSeatsAlreadyBooked) {
			c.deliver(protocol.Error{Code: protocol.CodeSeatsBooked, Message: err.Error()})
			return
		}
		log.Printf("hub: commit booking on bus %s: %v", m.BusID, err)
		c.deliver(protocol.Error{Code: protocol.CodeInternal, Message: "booking failed"})
		return
	}
	if err := h.holds.Remove(ctx, m.BusID, b.Seats); err != nil {
		log.Printf("hub: remove committed holds on bus %s: %v", m.BusID, err)
	}
	h.broadcast(r, nil, protocol.SeatsBooked{BookedSeats: b.Seats})
	r.mu.Unlock()

	if h.publisher == nil {
		return
	}
	ev := queue.BookingConfirmedEvent{
		BookingID:   b.ID,
		Reference:   b.Reference,
		BusID:       b.BusID,
		Operator:    bus.Operator,
		BusNumber:   bus.BusNumber,
		UserID:      b.UserID,
		HolderID:    b.HolderID,
		Seats:       b.Seats,
		TotalPrice:  b.TotalPrice,
		ConfirmedAt: b.CreatedAt.Format(time.RFC3339),
	}
	if err := h.publisher.PublishBookingConfirmed(ctx, ev); err != nil {
		log.Printf("hub: publish booking %s: %v", b.Reference, err)
	}
}

// memberRoom returns the room c joined if it matches busID; otherwise it
// replies with an error.
func (h *Hub) memberRoom(c *Client, busID string) (*room, string, bool) {
	joined, sessionID := c.joined()
	if joined == "" || joined != busID {
		c.deliver(protocol.Error{Code: protocol.CodeNotJoined, Message: fmt.Sprintf("not joined to bus %s", busID)})
		return nil, "", false
	}
	r := h.room(busID, false)
	if r == nil {
		c.deliver(protocol.Error{Code: protocol.CodeNotJoined, Message: fmt.Sprintf("not joined to bus %s", busID)})
		return nil, "", false
	}
	return r, sessionID, true
}

// broadcast delivers m to every member of r except skip.  The room lock
// must be held.
func (h *Hub) broadcast(r *room, skip *Client, m protocol.Message) {
	for member := range r.members {
		if member == skip {
			continue
		}
		if !member.deliver(m) {
			delete(r.members, member)
		}
	}
}

func (h *Hub) room(busID string, create bool) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[busID]
	if r == nil && create {
		r = &room{busID: busID, members: make(map[*Client]struct{})}
		h.rooms[busID] = r
	}
	return r
}

func priceSeats(bus model.Bus, layout []model.Seat, seats []int) int64 {
	fare := bus.EffectiveFare()
	byNumber := make(map[int]model.Seat, len(layout))
	for _, s := range layout {
		byNumber[s.Number] = s
	}
	var total int64
	for _, n := range seats {
		s, ok := byNumber[n]
		if !ok {
			s = model.Seat{Number: n, PriceMultiplier: 1}
		}
		total += s.Price(fare)
	}
	return total
}

func hasSeat(seats []model.Seat, n int) bool {
	if len(seats) == 0 {
		return true
	}
	for _, s := range seats {
		if s.Number == n {
			return true
		}
	}
	return false
}

func repeatedSeat(seats []int) (int, bool) {
	seen := make(map[int]struct{}, len(seats))
	for _, n := range seats {
		if _, ok := seen[n]; ok {
			return n, true
		}
		seen[n] = struct{}{}
	}
	return 0, false
}

func containsSeat(seats []int, n int) bool {
	for _, s := range seats {
		if s == n {
			return true
		}
	}
	return false
}
