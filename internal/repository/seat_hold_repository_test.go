package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0         = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	holdCols   = []string{"bus_id", "seat_number", "holder_id", "user_id", "selected_at"}
	selectHold = regexp.QuoteMeta(`SELECT bus_id, seat_number, holder_id, user_id, selected_at FROM seat_holds WHERE bus_id = ? AND seat_number = ? FOR UPDATE`)
	insertHold = regexp.QuoteMeta(`INSERT INTO seat_holds`)
	updateHold = regexp.QuoteMeta(`UPDATE seat_holds SET holder_id = ?`)
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestSeatHoldRepo_Acquire(t *testing.T) {
	ctx := context.Background()
	cutoff := t0.Add(-10 * time.Minute)
	rec := SeatHoldRecord{BusID: "bus-1", SeatNumber: 4, HolderID: "sess-a", UserID: "7", SelectedAt: t0}

	t.Run("free seat is inserted", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(selectHold).WithArgs("bus-1", 4).WillReturnRows(sqlmock.NewRows(holdCols))
		mock.ExpectExec(insertHold).
			WithArgs("bus-1", 4, "sess-a", "7", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		got, wrote, err := NewSeatHoldRepo(db).Acquire(ctx, rec, cutoff)
		require.NoError(t, err)
		assert.True(t, wrote)
		assert.Equal(t, rec, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost insert race reports the winner", func(t *testing.T) {
		db, mock := newMockDB(t)
		winner := SeatHoldRecord{BusID: "bus-1", SeatNumber: 4, HolderID: "sess-b", UserID: "9", SelectedAt: t0}
		mock.ExpectBegin()
		mock.ExpectQuery(selectHold).WithArgs("bus-1", 4).WillReturnRows(sqlmock.NewRows(holdCols))
		mock.ExpectExec(insertHold).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
		mock.ExpectRollback()
		mock.ExpectQuery(regexp.QuoteMeta(`FROM seat_holds WHERE bus_id = ? AND seat_number = ?`)).
			WithArgs("bus-1", 4).
			WillReturnRows(sqlmock.NewRows(holdCols).AddRow("bus-1", 4, "sess-b", "9", t0))

		got, wrote, err := NewSeatHoldRepo(db).Acquire(ctx, rec, cutoff)
		require.NoError(t, err)
		assert.False(t, wrote)
		assert.Equal(t, winner, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("live hold of another holder is kept", func(t *testing.T) {
		db, mock := newMockDB(t)
		live := t0.Add(-time.Minute)
		mock.ExpectBegin()
		mock.ExpectQuery(selectHold).WillReturnRows(sqlmock.NewRows(holdCols).AddRow("bus-1", 4, "sess-b", "9", live))
		mock.ExpectRollback()

		got, wrote, err := NewSeatHoldRepo(db).Acquire(ctx, rec, cutoff)
		require.NoError(t, err)
		assert.False(t, wrote)
		assert.Equal(t, "sess-b", got.HolderID)
		assert.Equal(t, live, got.SelectedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("live hold of the same holder is not renewed", func(t *testing.T) {
		db, mock := newMockDB(t)
		live := t0.Add(-time.Minute)
		mock.ExpectBegin()
		mock.ExpectQuery(selectHold).WillReturnRows(sqlmock.NewRows(holdCols).AddRow("bus-1", 4, "sess-a", "7", live))
		mock.ExpectRollback()

		got, wrote, err := NewSeatHoldRepo(db).Acquire(ctx, rec, cutoff)
		require.NoError(t, err)
		assert.False(t, wrote)
		assert.Equal(t, live, got.SelectedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	for _, holder := range []string{"sess-b", "sess-a"} {
		t.Run("expired hold of "+holder+" is replaced", func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectBegin()
			mock.ExpectQuery(selectHold).WillReturnRows(sqlmock.NewRows(holdCols).AddRow("bus-1", 4, holder, "9", cutoff))
			mock.ExpectExec(updateHold).
				WithArgs("sess-a", "7", sqlmock.AnyArg(), "bus-1", 4).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			got, wrote, err := NewSeatHoldRepo(db).Acquire(ctx, rec, cutoff)
			require.NoError(t, err)
			assert.True(t, wrote)
			assert.Equal(t, rec, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
