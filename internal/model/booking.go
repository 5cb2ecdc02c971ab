package model

import "time"

// Booking records seats permanently committed on a bus.  Once a seat
// appears in a booking it is booked for every participant and never
// returns to the held or available state.
//
// Fields:
//  ID         – primary key identifier.
//  Reference  – customer-facing booking reference (PNR).
//  BusID      – bus the seats belong to.
//  UserID     – identity of the customer ("anonymous" for guests).
//  HolderID   – public holder id of the session that held the seats;
//               the session id itself is never stored.
//  Seats      – committed seat numbers.
//  TotalPrice – total fare in whole currency units.
//  CreatedAt  – commit timestamp.
type Booking struct {
    ID         uint64    // bookings.id
    Reference  string    // bookings.reference
    BusID      string    // bookings.bus_id
    UserID     string    // bookings.user_id
    HolderID   string    // bookings.holder_id
    Seats      []int     // booking_seats.seat_number
    TotalPrice int64     // bookings.total_price
    CreatedAt  time.Time // bookings.created_at
}
