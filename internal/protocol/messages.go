// Package protocol defines the messages exchanged between participants and
// the coordination service over the seat channel.  Every message is a
// variant of the Message sum type; the wire format is a JSON envelope
// {"type": "...", "data": {...}}.
package protocol

import "time"

// Message type names as they appear on the wire.
const (
	TypeJoinBus          = "join-bus"
	TypeLeaveBus         = "leave-bus"
	TypeSelectSeat       = "select-seat"
	TypeBookingCompleted = "booking-completed"
	TypeSeatStatus       = "seat-status"
	TypeSeatSelected     = "seat-selected"
	TypeSeatDeselected   = "seat-deselected"
	TypeSeatsBooked      = "seats-booked"
	TypeSeatsExpired     = "seats-expired"
	TypeYourSeatExpired  = "your-seat-expired"
	TypeSeatLocked       = "seat-locked"
	TypeSeatUnavailable  = "seat-unavailable"
	TypeSeatHeld         = "seat-held"
	TypeError            = "error"
)

// Error codes carried by Error.
const (
	CodeBadRequest   = "bad-request"
	CodeNotJoined    = "not-joined"
	CodeBusNotFound  = "bus-not-found"
	CodeUnknownSeat  = "unknown-seat"
	CodeSeatsNotHeld = "seats-not-held"
	CodeSeatsBooked  = "seats-booked"
	CodeInternal     = "internal"

	// CodeSessionConflict refuses a JoinBus whose session already holds
	// seats for a different user.
	CodeSessionConflict = "session-conflict"
)

// Action is the intent carried by SelectSeat.
type Action string

const (
	ActionSelect   Action = "select"
	ActionDeselect Action = "deselect"
)

// Message is implemented by every protocol variant.  The unexported method
// closes the set so a type switch over it can be checked for completeness.
type Message interface {
	Type() string
	isMessage()
}

// JoinBus subscribes the connection to a bus and requests a snapshot.
// SessionID identifies the browsing session across reconnects and owns the
// session's holds.  It is a secret: the server never sends it back and
// announces holds under a derived public holder id instead.
type JoinBus struct {
	BusID     string `json:"busId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// LeaveBus releases every hold of the connection and unsubscribes it.
type LeaveBus struct {
	BusID string `json:"busId"`
}

// SelectSeat asks the coordination service to hold or release a seat.
// SelectedAt is set only when re-asserting an existing hold after a
// reconnect.
type SelectSeat struct {
	BusID      string     `json:"busId"`
	SeatNumber int        `json:"seatNumber"`
	Action     Action     `json:"action"`
	UserID     string     `json:"userId"`
	SelectedAt *time.Time `json:"selectedAt,omitempty"`
}

// BookingCompleted commits the sender's held seats.
type BookingCompleted struct {
	BusID       string `json:"busId"`
	BookedSeats []int  `json:"bookedSeats"`
}

// HeldSeat is one hold inside a snapshot.  HolderID is the public holder
// id, never the session id.
type HeldSeat struct {
	SeatNumber int       `json:"seatNumber"`
	HolderID   string    `json:"holderId"`
	SelectedAt time.Time `json:"selectedAt"`
}

// SeatStatus is the full snapshot sent in reply to JoinBus.  Self is the
// public holder id of the receiving session, so it can recognise its own
// holds in Held and in later SeatSelected events.
type SeatStatus struct {
	BusID       string     `json:"busId"`
	Self        string     `json:"self"`
	BookedSeats []int      `json:"bookedSeats"`
	Held        []HeldSeat `json:"held"`
}

// SeatSelected announces a hold accepted for another participant.
type SeatSelected struct {
	SeatNumber int       `json:"seatNumber"`
	HolderID   string    `json:"holderId"`
	SelectedAt time.Time `json:"selectedAt"`
}

// SeatDeselected announces a released hold.
type SeatDeselected struct {
	SeatNumber int `json:"seatNumber"`
}

// SeatsBooked announces seats that became permanently booked.
type SeatsBooked struct {
	BookedSeats []int `json:"bookedSeats"`
}

// SeatsExpired announces holds released by the server's expiry sweep.
type SeatsExpired struct {
	Seats []int `json:"seats"`
}

// YourSeatExpired tells a holder that its own hold expired.  SelectedAt
// identifies the expired hold; a newer local hold on the seat is kept.
type YourSeatExpired struct {
	SeatNumber int       `json:"seatNumber"`
	SelectedAt time.Time `json:"selectedAt"`
}

// SeatLocked rejects a selection because another participant holds the
// seat.  TimeLeft is in whole seconds.
type SeatLocked struct {
	SeatNumber int       `json:"seatNumber"`
	TimeLeft   int       `json:"timeLeft"`
	HolderID   string    `json:"holderId,omitempty"`
	SelectedAt time.Time `json:"selectedAt,omitempty"`
}

// SeatUnavailable rejects a selection because the seat is booked.
type SeatUnavailable struct {
	SeatNumber int `json:"seatNumber"`
}

// SeatHeld acknowledges a selection to the requester.
type SeatHeld struct {
	SeatNumber int       `json:"seatNumber"`
	SelectedAt time.Time `json:"selectedAt"`
}

// Error reports a request the server could not process.  SeatNumber is
// set when the error concerns one seat of a SelectSeat or
// BookingCompleted request.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	SeatNumber int    `json:"seatNumber,omitempty"`
}

func (JoinBus) Type() string          { return TypeJoinBus }
func (LeaveBus) Type() string         { return TypeLeaveBus }
func (SelectSeat) Type() string       { return TypeSelectSeat }
func (BookingCompleted) Type() string { return TypeBookingCompleted }
func (SeatStatus) Type() string       { return TypeSeatStatus }
func (SeatSelected) Type() string     { return TypeSeatSelected }
func (SeatDeselected) Type() string   { return TypeSeatDeselected }
func (SeatsBooked) Type() string      { return TypeSeatsBooked }
func (SeatsExpired) Type() string     { return TypeSeatsExpired }
func (YourSeatExpired) Type() string  { return TypeYourSeatExpired }
func (SeatLocked) Type() string       { return TypeSeatLocked }
func (SeatUnavailable) Type() string  { return TypeSeatUnavailable }
func (SeatHeld) Type() string         { return TypeSeatHeld }
func (Error) Type() string            { return TypeError }

func (JoinBus) isMessage()          {}
func (LeaveBus) isMessage()         {}
func (SelectSeat) isMessage()       {}
func (BookingCompleted) isMessage() {}
func (SeatStatus) isMessage()       {}
func (SeatSelected) isMessage()     {}
func (SeatDeselected) isMessage()   {}
func (SeatsBooked) isMessage()      {}
func (SeatsExpired) isMessage()     {}
func (YourSeatExpired) isMessage()  {}
func (SeatLocked) isMessage()       {}
func (SeatUnavailable) isMessage()  {}
func (SeatHeld) isMessage()         {}
func (Error) isMessage()            {}
