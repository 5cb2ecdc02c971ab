package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireShape(t *testing.T) {
	b, err := Encode(SelectSeat{BusID: "bus-1", SeatNumber: 5, Action: ActionSelect, UserID: "u1"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "select-seat", raw["type"])
	data := raw["data"].(map[string]any)
	assert.Equal(t, float64(5), data["seatNumber"])
	assert.Equal(t, "select", data["action"])
	assert.NotContains(t, data, "selectedAt")
}

func TestDecode_SnapshotFromServer(t *testing.T) {
	in := `{"type":"seat-status","data":{"busId":"bus-1","bookedSeats":[1,2],
		"held":[{"seatNumber":7,"holderId":"s-2","selectedAt":"2026-03-01T10:00:00Z"}]}}`

	m, err := Decode([]byte(in))
	require.NoError(t, err)
	snap, ok := m.(SeatStatus)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, []int{1, 2}, snap.BookedSeats)
	require.Len(t, snap.Held, 1)
	assert.Equal(t, "s-2", snap.Held[0].HolderID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), snap.Held[0].SelectedAt.UTC())
}

func TestDecode_ReassertKeepsSelectedAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b, err := Encode(SelectSeat{BusID: "b", SeatNumber: 3, Action: ActionSelect, SelectedAt: &at})
	require.NoError(t, err)

	m, err := Decode(b)
	require.NoError(t, err)
	sel := m.(SelectSeat)
	require.NotNil(t, sel.SelectedAt)
	assert.True(t, at.Equal(*sel.SelectedAt))
}

func TestDecode_EmptyDataIsZeroValue(t *testing.T) {
	m, err := Decode([]byte(`{"type":"leave-bus"}`))
	require.NoError(t, err)
	assert.Equal(t, LeaveBus{}, m)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecode_SeatErrorCarriesSeatNumber(t *testing.T) {
	b, err := Encode(Error{Code: CodeUnknownSeat, Message: "seat 42 does not exist", SeatNumber: 42})
	require.NoError(t, err)
	m, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, 42, m.(Error).SeatNumber)

	// errors about the whole request carry no seat
	b, err = Encode(Error{Code: CodeNotJoined, Message: "not joined"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "seatNumber")
}
