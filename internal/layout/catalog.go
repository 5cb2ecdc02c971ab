package layout

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// BusSource reads buses and their stored seats.  *repository.BusRepo
// satisfies it.
type BusSource interface {
	GetBus(ctx context.Context, id string) (*model.Bus, error)
	ListSeats(ctx context.Context, busID string) ([]model.Seat, error)
}

// Catalog resolves bus layouts from a BusSource, falling back to Default
// for buses without stored seats.  Results are kept for TTL because seat
// layouts do not change while customers browse.
type Catalog struct {
	src BusSource
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]catalogEntry
}

type catalogEntry struct {
	bus     model.Bus
	seats   []model.Seat
	expires time.Time
}

// NewCatalog returns a catalog caching results for ttl (0 disables caching).
func NewCatalog(src BusSource, ttl time.Duration) *Catalog {
	return &Catalog{src: src, ttl: ttl, entries: make(map[string]catalogEntry)}
}

// Layout returns the bus and its seats.  Errors from the source, including
// repository.ErrBusNotFound, are returned unchanged.
func (c *Catalog) Layout(ctx context.Context, busID string) (model.Bus, []model.Seat, error) {
	now := time.Now()
	if c.ttl > 0 {
		c.mu.Lock()
		e, ok := c.entries[busID]
		c.mu.Unlock()
		if ok && now.Before(e.expires) {
			return e.bus, e.seats, nil
		}
	}

	bus, err := c.src.GetBus(ctx, busID)
	if err != nil {
		return model.Bus{}, nil, err
	}
	seats, err := c.src.ListSeats(ctx, busID)
	if err != nil {
		return model.Bus{}, nil, err
	}
	if len(seats) == 0 {
		seats = Default(bus.TotalSeats, bus.AvailableSeats).Seats()
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[busID] = catalogEntry{bus: *bus, seats: seats, expires: now.Add(c.ttl)}
		c.mu.Unlock()
	}
	return *bus, seats, nil
}
