package model

// Bus represents a scheduled coach that customers can book seats on.  This
// struct corresponds to a row in the `buses` table.
//
// Fields:
//  ID             – opaque bus identifier.
//  Operator       – operating company name.
//  BusNumber      – registration or fleet number.
//  Type           – coach type (AC, Non-AC, Sleeper ...).
//  Price          – list fare per seat in whole currency units.
//  DiscountPrice  – optional discounted fare (0 when absent).
//  TotalSeats     – number of seats on the bus.
//  AvailableSeats – seats that are still sellable.
type Bus struct {
    ID             string `json:"id"`             // buses.id
    Operator       string `json:"operator"`       // buses.operator
    BusNumber      string `json:"busNumber"`      // buses.bus_number
    Type           string `json:"type"`           // buses.bus_type
    Price          int64  `json:"price"`          // buses.price
    DiscountPrice  int64  `json:"discountPrice"`  // buses.discount_price
    TotalSeats     int    `json:"totalSeats"`     // buses.total_seats
    AvailableSeats int    `json:"availableSeats"` // buses.available_seats
}

// EffectiveFare returns the discounted fare when one is set and lower than
// the list fare, otherwise the list fare.
func (b Bus) EffectiveFare() int64 {
    if b.DiscountPrice > 0 && b.DiscountPrice < b.Price {
        return b.DiscountPrice
    }
    if b.Price < 0 {
        return 0
    }
    return b.Price
}
