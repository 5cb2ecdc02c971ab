package model

import "math"

// SeatClass enumerates the fare classes a seat can belong to.  The class
// determines the multiplier applied to the bus fare.
type SeatClass string

const (
    SeatWindow  SeatClass = "window"
    SeatAisle   SeatClass = "aisle"
    SeatPremium SeatClass = "premium"
)

// Multiplier returns the default price multiplier for the class.  Unknown
// classes are priced like an aisle seat.
func (c SeatClass) Multiplier() float64 {
    switch c {
    case SeatWindow:
        return 1.1
    case SeatPremium:
        return 1.25
    default:
        return 1.0
    }
}

// Seat describes one physical seat on a bus.  A seat is defined once per
// bus (from the stored layout or the default generator) and never changes
// while a customer is browsing.
//
// Fields:
//  Number          – positive seat number, unique within the bus.
//  Class           – fare class (window, aisle, premium).
//  PriceMultiplier – factor applied to the effective bus fare.
//  Row             – zero-based row in the layout grid.
type Seat struct {
    Number          int       `json:"seatNumber"`      // bus_seats.seat_number
    Class           SeatClass `json:"type"`            // bus_seats.seat_class
    PriceMultiplier float64   `json:"priceMultiplier"` // bus_seats.price_multiplier
    Row             int       `json:"row"`             // bus_seats.row_index
}

// Price returns the seat price for the given effective fare, rounded to the
// nearest whole currency unit.
func (s Seat) Price(fare int64) int64 {
    m := s.PriceMultiplier
    if m <= 0 {
        m = 1
    }
    return int64(math.Round(float64(fare) * m))
}
