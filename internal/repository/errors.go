// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the coordination hub to distinguish between different
// failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrBusNotFound is returned when no bus with the requested id exists.
// Handlers should translate this into an HTTP 404 response.
var ErrBusNotFound = errors.New("bus not found")

// ErrEmailExists is returned when registering an email that is already
// taken. Handlers should translate this into an HTTP 409 response.
var ErrEmailExists = errors.New("email already exists")

// ErrSeatsAlreadyBooked is returned by a booking commit when at least one
// of the seats is already part of another booking.  Booked seats are
// permanent, so the commit is rejected as a whole.
var ErrSeatsAlreadyBooked = errors.New("seats already booked")

// ErrSeatsNotHeld is returned when a booking is attempted for seats the
// requester does not hold.
var ErrSeatsNotHeld = errors.New("seats not held by requester")
