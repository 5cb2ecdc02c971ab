package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// MemoryBookings is a process-local BookingStore.  The server always
// commits through MySQL; this store backs hub and handler tests.
type MemoryBookings struct {
	mu       sync.Mutex
	nextID   uint64
	booked   map[string]map[int]struct{}
	bookings []model.Booking
}

// NewMemoryBookings returns an empty store.  Seats listed in preset are
// reported as booked for their bus.
func NewMemoryBookings(preset map[string][]int) *MemoryBookings {
	m := &MemoryBookings{booked: make(map[string]map[int]struct{})}
	for bus, seats := range preset {
		for _, n := range seats {
			m.mark(bus, n)
		}
	}
	return m
}

func (m *MemoryBookings) BookedSeats(_ context.Context, busID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.booked[busID]))
	for n := range m.booked[busID] {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (m *MemoryBookings) Commit(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range b.Seats {
		if _, ok := m.booked[b.BusID][n]; ok {
			return repository.ErrSeatsAlreadyBooked
		}
	}
	for _, n := range b.Seats {
		m.mark(b.BusID, n)
	}
	m.nextID++
	b.ID = m.nextID
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.bookings = append(m.bookings, *b)
	return nil
}

// Bookings returns the committed bookings in commit order.
func (m *MemoryBookings) Bookings() []model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Booking(nil), m.bookings...)
}

func (m *MemoryBookings) mark(bus string, n int) {
	if m.booked[bus] == nil {
		m.booked[bus] = make(map[int]struct{})
	}
	m.booked[bus][n] = struct{}{}
}
