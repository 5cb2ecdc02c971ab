package booking

import (
	"context"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Order is handed to the checkout collaborator once the seats are
// committed.
type Order struct {
	Bus            model.Bus
	Seats          []model.Seat
	PassengerCount int
	TotalPrice     int64
}

// SeatNumbers returns the ordered seat numbers of the order.
func (o Order) SeatNumbers() []int {
	out := make([]int, len(o.Seats))
	for i, s := range o.Seats {
		out[i] = s.Number
	}
	return out
}

// Checkout receives completed selections, typically a payment flow.
type Checkout interface {
	Handoff(ctx context.Context, o Order) error
}

// CheckoutFunc adapts a function to Checkout.
type CheckoutFunc func(ctx context.Context, o Order) error

// Handoff implements Checkout.
func (f CheckoutFunc) Handoff(ctx context.Context, o Order) error { return f(ctx, o) }

// TotalPrice sums the rounded per-seat prices for the bus fare.
func TotalPrice(bus model.Bus, seats []model.Seat) int64 {
	fare := bus.EffectiveFare()
	var total int64
	for _, s := range seats {
		total += s.Price(fare)
	}
	return total
}
