package coordinator

import (
	"context"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// holdRows is the subset of *repository.SeatHoldRepo used by SQLStore.
type holdRows interface {
	Acquire(ctx context.Context, rec repository.SeatHoldRecord, cutoff time.Time) (repository.SeatHoldRecord, bool, error)
	Release(ctx context.Context, busID string, seat int, holderID string) (bool, error)
	DeleteByHolder(ctx context.Context, busID, holderID string) ([]int, error)
	ExpireHolds(ctx context.Context, busID string, cutoff time.Time) ([]repository.SeatHoldRecord, error)
	ListByBus(ctx context.Context, busID string) ([]repository.SeatHoldRecord, error)
	DeleteSeats(ctx context.Context, busID string, seats []int) error
}

// SQLStore is a HoldStore on the MySQL seat_holds table.  Row locks taken
// inside the repository transactions serialise concurrent acquires.
type SQLStore struct {
	rows holdRows
}

// NewSQLStore wraps a seat hold repository.
func NewSQLStore(rows holdRows) *SQLStore {
	return &SQLStore{rows: rows}
}

func (s *SQLStore) Acquire(ctx context.Context, busID string, h Hold, now time.Time) (Hold, AcquireStatus, error) {
	rec := repository.SeatHoldRecord{
		BusID:      busID,
		SeatNumber: h.Seat,
		HolderID:   h.HolderID,
		UserID:     h.UserID,
		SelectedAt: h.SelectedAt,
	}
	stored, written, err := s.rows.Acquire(ctx, rec, now.Add(-model.HoldTTL))
	if err != nil {
		return Hold{}, Locked, err
	}
	got := fromRecord(stored)
	switch {
	case written:
		return got, Acquired, nil
	case got.HolderID == h.HolderID:
		return got, AlreadyHeld, nil
	default:
		return got, Locked, nil
	}
}

func (s *SQLStore) Release(ctx context.Context, busID string, seat int, holderID string) (bool, error) {
	return s.rows.Release(ctx, busID, seat, holderID)
}

func (s *SQLStore) ReleaseHolder(ctx context.Context, busID, holderID string) ([]int, error) {
	return s.rows.DeleteByHolder(ctx, busID, holderID)
}

func (s *SQLStore) Holds(ctx context.Context, busID string) ([]Hold, error) {
	recs, err := s.rows.ListByBus(ctx, busID)
	if err != nil {
		return nil, err
	}
	return fromRecords(recs), nil
}

func (s *SQLStore) Expire(ctx context.Context, busID string, now time.Time) ([]Hold, error) {
	recs, err := s.rows.ExpireHolds(ctx, busID, now.Add(-model.HoldTTL))
	if err != nil {
		return nil, err
	}
	return fromRecords(recs), nil
}

func (s *SQLStore) Remove(ctx context.Context, busID string, seats []int) error {
	return s.rows.DeleteSeats(ctx, busID, seats)
}

func fromRecord(r repository.SeatHoldRecord) Hold {
	return Hold{Seat: r.SeatNumber, HolderID: r.HolderID, UserID: r.UserID, SelectedAt: r.SelectedAt}
}

func fromRecords(recs []repository.SeatHoldRecord) []Hold {
	out := make([]Hold, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	sortHolds(out)
	return out
}
