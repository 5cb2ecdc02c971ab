package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

// Hold is one seat hold in the authoritative hold table.  HolderID is the
// participant's session id.
type Hold struct {
	Seat       int       `json:"seatNumber"`
	HolderID   string    `json:"holderId"`
	UserID     string    `json:"userId"`
	SelectedAt time.Time `json:"selectedAt"`
}

// AcquireStatus is the outcome of HoldStore.Acquire.
type AcquireStatus int

const (
	// Acquired means a new hold was stored.
	Acquired AcquireStatus = iota
	// AlreadyHeld means the requester already holds the seat unexpired;
	// the stored selection time was kept.
	AlreadyHeld
	// Locked means another holder has an unexpired hold.
	Locked
)

// HoldStore is the per-bus hold table.  Implementations must make Acquire
// atomic: of two concurrent requests for a free seat exactly one wins.
type HoldStore interface {
	// Acquire stores h unless the seat has an unexpired hold.  An unexpired
	// hold of h.HolderID is kept as is (AlreadyHeld); an expired one, of
	// any holder, is replaced.  It returns the hold stored after the call.
	Acquire(ctx context.Context, busID string, h Hold, now time.Time) (Hold, AcquireStatus, error)
	// Release deletes the hold on seat if holderID owns it.
	Release(ctx context.Context, busID string, seat int, holderID string) (bool, error)
	// ReleaseHolder deletes every hold of holderID and returns the seats.
	ReleaseHolder(ctx context.Context, busID, holderID string) ([]int, error)
	// Holds lists the holds of a bus in ascending seat order.
	Holds(ctx context.Context, busID string) ([]Hold, error)
	// Expire deletes and returns every hold whose TTL elapsed at now.
	Expire(ctx context.Context, busID string, now time.Time) ([]Hold, error)
	// Remove deletes the holds on seats regardless of owner.
	Remove(ctx context.Context, busID string, seats []int) error
}

// BookingStore persists committed bookings.
type BookingStore interface {
	BookedSeats(ctx context.Context, busID string) ([]int, error)
	// Commit stores b and fills its ID and CreatedAt.  It fails with
	// repository.ErrSeatsAlreadyBooked if any seat is already booked.
	Commit(ctx context.Context, b *model.Booking) error
}

// Catalog resolves a bus and its seat layout.
type Catalog interface {
	Layout(ctx context.Context, busID string) (model.Bus, []model.Seat, error)
}

// Publisher emits booking-confirmed events to the message broker.
type Publisher interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// MemoryStore is a process-local HoldStore.
type MemoryStore struct {
	mu    sync.Mutex
	buses map[string]map[int]Hold
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buses: make(map[string]map[int]Hold)}
}

func (s *MemoryStore) Acquire(_ context.Context, busID string, h Hold, now time.Time) (Hold, AcquireStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	holds := s.buses[busID]
	if holds == nil {
		holds = make(map[int]Hold)
		s.buses[busID] = holds
	}
	if cur, ok := holds[h.Seat]; ok && model.HoldRemaining(cur.SelectedAt, now) > 0 {
		if cur.HolderID == h.HolderID {
			return cur, AlreadyHeld, nil
		}
		return cur, Locked, nil
	}
	holds[h.Seat] = h
	return h, Acquired, nil
}

func (s *MemoryStore) Release(_ context.Context, busID string, seat int, holderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.buses[busID][seat]
	if !ok || cur.HolderID != holderID {
		return false, nil
	}
	delete(s.buses[busID], seat)
	return true, nil
}

func (s *MemoryStore) ReleaseHolder(_ context.Context, busID, holderID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for n, h := range s.buses[busID] {
		if h.HolderID == holderID {
			delete(s.buses[busID], n)
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (s *MemoryStore) Holds(_ context.Context, busID string) ([]Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Hold, 0, len(s.buses[busID]))
	for _, h := range s.buses[busID] {
		out = append(out, h)
	}
	sortHolds(out)
	return out, nil
}

func (s *MemoryStore) Expire(_ context.Context, busID string, now time.Time) ([]Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Hold
	for n, h := range s.buses[busID] {
		if model.HoldRemaining(h.SelectedAt, now) == 0 {
			delete(s.buses[busID], n)
			out = append(out, h)
		}
	}
	sortHolds(out)
	return out, nil
}

func (s *MemoryStore) Remove(_ context.Context, busID string, seats []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range seats {
		delete(s.buses[busID], n)
	}
	return nil
}

func sortHolds(h []Hold) {
	sort.Slice(h, func(i, j int) bool { return h[i].Seat < h[j].Seat })
}
