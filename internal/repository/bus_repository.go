package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// BusRepo reads buses and their stored seat layouts.  A bus without rows
// in bus_seats has no stored layout; callers fall back to the generated
// default layout in that case.
//
//	buses(id, operator, bus_number, bus_type, price, discount_price,
//	      total_seats, available_seats)
//	bus_seats(bus_id, seat_number, seat_class, price_multiplier, row_index)
type BusRepo struct {
	db *sql.DB
}

// NewBusRepo constructs a BusRepo with the given DB handle.
func NewBusRepo(db *sql.DB) *BusRepo {
	return &BusRepo{db: db}
}

// GetBus retrieves a bus by id.  ErrBusNotFound is returned when no row
// matches.
func (r *BusRepo) GetBus(ctx context.Context, id string) (*model.Bus, error) {
	const q = `SELECT id, operator, bus_number, bus_type, price, discount_price, total_seats, available_seats
	           FROM buses
	           WHERE id = ?`
	var (
		b        model.Bus
		discount sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.Operator, &b.BusNumber, &b.Type, &b.Price, &discount, &b.TotalSeats, &b.AvailableSeats,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBusNotFound
		}
		return nil, err
	}
	if discount.Valid {
		b.DiscountPrice = discount.Int64
	}
	return &b, nil
}

// ListSeats retrieves the stored layout of a bus ordered by row then seat
// number.  An empty slice means the bus has no stored layout.
func (r *BusRepo) ListSeats(ctx context.Context, busID string) ([]model.Seat, error) {
	const q = `SELECT seat_number, seat_class, price_multiplier, row_index
	           FROM bus_seats
	           WHERE bus_id = ?
	           ORDER BY row_index, seat_number`
	rows, err := r.db.QueryContext(ctx, q, busID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := []model.Seat{}
	for rows.Next() {
		var (
			s     model.Seat
			class string
		)
		if err := rows.Scan(&s.Number, &class, &s.PriceMultiplier, &s.Row); err != nil {
			return nil, err
		}
		s.Class = model.SeatClass(class)
		if s.PriceMultiplier <= 0 {
			s.PriceMultiplier = s.Class.Multiplier()
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}
