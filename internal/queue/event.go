// Package queue defines message payloads exchanged over the message broker.
package queue

// BookingConfirmedQueue is the RabbitMQ queue (and Kafka topic default)
// carrying BookingConfirmedEvent payloads.
const BookingConfirmedQueue = "booking.confirmed"

// BookingConfirmedEvent is published when the coordination hub commits a
// set of held seats. It contains enough information for downstream
// consumers to log, notify, or trigger analytics without querying the
// primary database.  HolderID is the public holder id broadcast on the
// seat channel, not the session id that owns holds.
type BookingConfirmedEvent struct {
    BookingID   uint64 `json:"booking_id"`
    Reference   string `json:"reference"`
    BusID       string `json:"bus_id"`
    Operator    string `json:"operator"`
    BusNumber   string `json:"bus_number"`
    UserID      string `json:"user_id"`
    HolderID    string `json:"holder_id"`
    Seats       []int  `json:"seats"`
    TotalPrice  int64  `json:"total_price"`
    ConfirmedAt string `json:"confirmed_at"`
}
