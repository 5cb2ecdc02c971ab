package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

type mockHoldRows struct{ mock.Mock }

func (m *mockHoldRows) Acquire(ctx context.Context, rec repository.SeatHoldRecord, cutoff time.Time) (repository.SeatHoldRecord, bool, error) {
	args := m.Called(ctx, rec, cutoff)
	return args.Get(0).(repository.SeatHoldRecord), args.Bool(1), args.Error(2)
}

func (m *mockHoldRows) Release(ctx context.Context, busID string, seat int, holderID string) (bool, error) {
	args := m.Called(ctx, busID, seat, holderID)
	return args.Bool(0), args.Error(1)
}

func (m *mockHoldRows) DeleteByHolder(ctx context.Context, busID, holderID string) ([]int, error) {
	args := m.Called(ctx, busID, holderID)
	return args.Get(0).([]int), args.Error(1)
}

func (m *mockHoldRows) ExpireHolds(ctx context.Context, busID string, cutoff time.Time) ([]repository.SeatHoldRecord, error) {
	args := m.Called(ctx, busID, cutoff)
	return args.Get(0).([]repository.SeatHoldRecord), args.Error(1)
}

func (m *mockHoldRows) ListByBus(ctx context.Context, busID string) ([]repository.SeatHoldRecord, error) {
	args := m.Called(ctx, busID)
	return args.Get(0).([]repository.SeatHoldRecord), args.Error(1)
}

func (m *mockHoldRows) DeleteSeats(ctx context.Context, busID string, seats []int) error {
	return m.Called(ctx, busID, seats).Error(0)
}

func TestSQLStore_AcquireStatuses(t *testing.T) {
	ctx := context.Background()
	cutoff := t0.Add(-model.HoldTTL)
	mine := Hold{Seat: 3, HolderID: "sess-a", UserID: "7", SelectedAt: t0}
	rec := repository.SeatHoldRecord{BusID: "bus-1", SeatNumber: 3, HolderID: "sess-a", UserID: "7", SelectedAt: t0}
	earlier := repository.SeatHoldRecord{BusID: "bus-1", SeatNumber: 3, HolderID: "sess-a", UserID: "7", SelectedAt: t0.Add(-time.Minute)}
	other := repository.SeatHoldRecord{BusID: "bus-1", SeatNumber: 3, HolderID: "sess-b", UserID: "9", SelectedAt: t0.Add(-30 * time.Second)}

	tests := []struct {
		name   string
		stored repository.SeatHoldRecord
		wrote  bool
		want   AcquireStatus
	}{
		{"free seat", rec, true, Acquired},
		{"own hold kept", earlier, false, AlreadyHeld},
		{"other holder", other, false, Locked},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rows := new(mockHoldRows)
			rows.On("Acquire", ctx, rec, cutoff).Return(tc.stored, tc.wrote, nil).Once()

			got, status, err := NewSQLStore(rows).Acquire(ctx, "bus-1", mine, t0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, status)
			assert.Equal(t, tc.stored.HolderID, got.HolderID)
			assert.Equal(t, tc.stored.SelectedAt, got.SelectedAt)
			rows.AssertExpectations(t)
		})
	}
}

func TestSQLStore_ExpireUsesTTLCutoff(t *testing.T) {
	ctx := context.Background()
	rows := new(mockHoldRows)
	rows.On("ExpireHolds", ctx, "bus-1", t0.Add(-model.HoldTTL)).Return([]repository.SeatHoldRecord{
		{BusID: "bus-1", SeatNumber: 6, HolderID: "sess-b", SelectedAt: t0.Add(-3 * time.Minute)},
		{BusID: "bus-1", SeatNumber: 2, HolderID: "sess-a", SelectedAt: t0.Add(-2 * time.Minute)},
	}, nil)

	got, err := NewSQLStore(rows).Expire(ctx, "bus-1", t0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Seat)
	assert.Equal(t, 6, got[1].Seat)
}

func TestSQLStore_Delegates(t *testing.T) {
	ctx := context.Background()
	rows := new(mockHoldRows)
	rows.On("Release", ctx, "bus-1", 4, "sess-a").Return(true, nil)
	rows.On("DeleteByHolder", ctx, "bus-1", "sess-a").Return([]int{1, 4}, nil)
	rows.On("ListByBus", ctx, "bus-1").Return([]repository.SeatHoldRecord{}, nil)
	rows.On("DeleteSeats", ctx, "bus-1", []int{1, 4}).Return(nil)

	store := NewSQLStore(rows)
	ok, err := store.Release(ctx, "bus-1", 4, "sess-a")
	require.NoError(t, err)
	assert.True(t, ok)
	seats, err := store.ReleaseHolder(ctx, "bus-1", "sess-a")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, seats)
	holds, err := store.Holds(ctx, "bus-1")
	require.NoError(t, err)
	assert.Empty(t, holds)
	require.NoError(t, store.Remove(ctx, "bus-1", []int{1, 4}))
	rows.AssertExpectations(t)
}
