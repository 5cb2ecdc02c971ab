package coordinator

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

func mustEncode(t *testing.T, h Hold) string {
	t.Helper()
	s, err := encodeHold(h)
	require.NoError(t, err)
	return s
}

func acquireArgs(h Hold, payload string, now time.Time) []interface{} {
	return []interface{}{
		strconv.Itoa(h.Seat),
		h.HolderID,
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(model.HoldTTL.Milliseconds(), 10),
		payload,
		strconv.FormatInt((2 * model.HoldTTL).Milliseconds(), 10),
	}
}

func TestRedisStore_AcquireFreeSeat(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")
	ctx := context.Background()

	h := Hold{Seat: 5, HolderID: "sess-a", UserID: "7", SelectedAt: t0}
	payload := mustEncode(t, h)
	mock.ExpectEvalSha(acquireScript.Hash(), []string{"holds:bus-1"}, acquireArgs(h, payload, t0)...).
		SetVal([]interface{}{int64(0), payload})

	got, status, err := store.Acquire(ctx, "bus-1", h, t0)
	require.NoError(t, err)
	assert.Equal(t, Acquired, status)
	assert.Equal(t, h, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_AcquireLocked(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")
	ctx := context.Background()

	existing := Hold{Seat: 5, HolderID: "sess-b", UserID: "anonymous", SelectedAt: t0}
	h := Hold{Seat: 5, HolderID: "sess-a", UserID: "7", SelectedAt: t0.Add(time.Second)}
	payload := mustEncode(t, h)
	mock.ExpectEvalSha(acquireScript.Hash(), []string{"holds:bus-1"}, acquireArgs(h, payload, h.SelectedAt)...).
		SetVal([]interface{}{int64(2), mustEncode(t, existing)})

	got, status, err := store.Acquire(ctx, "bus-1", h, h.SelectedAt)
	require.NoError(t, err)
	assert.Equal(t, Locked, status)
	assert.Equal(t, "sess-b", got.HolderID)
	assert.True(t, t0.Equal(got.SelectedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_AcquireError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")

	h := Hold{Seat: 5, HolderID: "sess-a", SelectedAt: t0}
	payload := mustEncode(t, h)
	mock.ExpectEvalSha(acquireScript.Hash(), []string{"holds:bus-1"}, acquireArgs(h, payload, t0)...).
		SetErr(errors.New("connection refused"))

	_, _, err := store.Acquire(context.Background(), "bus-1", h, t0)
	assert.ErrorContains(t, err, "connection refused")
}

func TestRedisStore_Release(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")

	mock.ExpectEvalSha(releaseScript.Hash(), []string{"holds:bus-1"}, "5", "sess-a").SetVal(int64(1))
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"holds:bus-1"}, "5", "sess-a").SetVal(int64(0))

	ok, err := store.Release(context.Background(), "bus-1", 5, "sess-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Release(context.Background(), "bus-1", 5, "sess-a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ReleaseHolder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")

	a := mustEncode(t, Hold{Seat: 6, HolderID: "sess-a", SelectedAt: t0})
	b := mustEncode(t, Hold{Seat: 2, HolderID: "sess-a", SelectedAt: t0})
	mock.ExpectEvalSha(releaseHolderScript.Hash(), []string{"holds:bus-1"}, "sess-a").
		SetVal([]interface{}{a, b})

	seats, err := store.ReleaseHolder(context.Background(), "bus-1", "sess-a")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 6}, seats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_HoldsAndExpire(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")
	ctx := context.Background()

	mock.ExpectHGetAll("holds:bus-1").SetVal(map[string]string{
		"7": mustEncode(t, Hold{Seat: 7, HolderID: "sess-b", SelectedAt: t0}),
		"3": mustEncode(t, Hold{Seat: 3, HolderID: "sess-a", SelectedAt: t0}),
	})
	holds, err := store.Holds(ctx, "bus-1")
	require.NoError(t, err)
	require.Len(t, holds, 2)
	assert.Equal(t, 3, holds[0].Seat)
	assert.Equal(t, 7, holds[1].Seat)

	now := t0.Add(model.HoldTTL)
	mock.ExpectEvalSha(expireScript.Hash(), []string{"holds:bus-1"},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(model.HoldTTL.Milliseconds(), 10),
	).SetVal([]interface{}{mustEncode(t, Hold{Seat: 7, HolderID: "sess-b", SelectedAt: t0})})

	expired, err := store.Expire(ctx, "bus-1", now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "sess-b", expired[0].HolderID)

	mock.ExpectHDel("holds:bus-1", "3", "7").SetVal(2)
	require.NoError(t, store.Remove(ctx, "bus-1", []int{3, 7}))
	require.NoError(t, store.Remove(ctx, "bus-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
