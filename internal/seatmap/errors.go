package seatmap

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrSeatUnavailable is returned when the seat is already booked.  It is
// not retryable for that seat.
var ErrSeatUnavailable = errors.New("seat unavailable")

// ErrSeatLocked is returned when another participant currently holds the
// seat.  It is retryable once the other hold expires.
var ErrSeatLocked = errors.New("seat locked")

// ErrSelectionFull is returned when selecting would exceed the passenger
// count.  The caller must deselect a seat first.
var ErrSelectionFull = errors.New("selection full")

// ErrRaceLostOnBooking marks a local hold that another participant booked
// before this participant committed it.
var ErrRaceLostOnBooking = errors.New("seat booked by another participant")

// ErrHoldExpired marks a hold that reached its TTL.
var ErrHoldExpired = errors.New("hold expired")

// SeatLockedError carries the remaining hold time of the other
// participant so the caller can show a retry hint.
type SeatLockedError struct {
	Seat      int
	Remaining time.Duration
}

func (e *SeatLockedError) Error() string {
	return fmt.Sprintf("seat %d locked for %ds", e.Seat, e.Seconds())
}

func (e *SeatLockedError) Unwrap() error { return ErrSeatLocked }

// Seconds rounds the remaining time up to whole seconds.
func (e *SeatLockedError) Seconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}
