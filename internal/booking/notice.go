package booking

import (
	"errors"

	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
	"github.com/iliyamo/bus-seat-reservation/internal/syncclient"
)

var (
	// ErrIncompleteSelection blocks checkout while the number of held
	// seats differs from the passenger count.
	ErrIncompleteSelection = errors.New("selected seats do not match passenger count")
	// ErrUnknownSeat is returned for a seat number missing from the layout.
	ErrUnknownSeat = errors.New("unknown seat")
	// ErrReadOnly is returned once reconnect attempts are exhausted.  The
	// session can still be viewed but no longer takes holds.
	ErrReadOnly = errors.New("connection lost, please refresh")
	// ErrConnection is returned while the seat channel is down.
	ErrConnection = syncclient.ErrNotConnected
	// ErrSelectionFailed wraps a server error that named a seat the
	// participant was selecting or booking.
	ErrSelectionFailed = errors.New("seat selection failed")

	// re-exported so callers need a single import
	ErrSeatUnavailable   = seatmap.ErrSeatUnavailable
	ErrSeatLocked        = seatmap.ErrSeatLocked
	ErrSelectionFull     = seatmap.ErrSelectionFull
	ErrHoldExpired       = seatmap.ErrHoldExpired
	ErrRaceLostOnBooking = seatmap.ErrRaceLostOnBooking
)

// Notice is an asynchronous notification for the UI layer.  It is one of
// Rejected, HoldExpired, RaceLost, OthersReleased, ConnectionState,
// Synced, Booked or ServerError.
type Notice interface{ isNotice() }

// Rejected reports a selection the coordination service refused after it
// was optimistically applied.  Err wraps ErrSeatLocked, ErrSeatUnavailable
// or ErrSelectionFailed.
type Rejected struct {
	Seat int
	Err  error
}

// HoldExpired reports that one of the participant's own holds reached its
// TTL, either locally or on the server.
type HoldExpired struct{ Seat int }

// RaceLost reports seats another participant booked while this participant
// still had them selected.
type RaceLost struct{ Seats []int }

// OthersReleased reports holds of other participants that aged out locally.
type OthersReleased struct{ Seats []int }

// ConnectionState reports a change of the channel state.
type ConnectionState struct {
	Connected bool
	ReadOnly  bool
	Err       error
}

// Synced is emitted after a snapshot replaced the session's view.
type Synced struct{ Reasserted []int }

// Booked reports that the participant's own booking was committed.
type Booked struct{ Seats []int }

// ServerError carries an error frame from the coordination service.
type ServerError struct {
	Code    string
	Message string
}

func (Rejected) isNotice()        {}
func (HoldExpired) isNotice()     {}
func (RaceLost) isNotice()        {}
func (OthersReleased) isNotice()  {}
func (ConnectionState) isNotice() {}
func (Synced) isNotice()          {}
func (Booked) isNotice()          {}
func (ServerError) isNotice()     {}
