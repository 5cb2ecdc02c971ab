package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned by Decode for an unrecognised message type.
var ErrUnknownType = errors.New("unknown message type")

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serialises a message into its wire envelope.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return json.Marshal(envelope{Type: m.Type(), Data: data})
}

// Decode parses a wire envelope into the matching message variant.  The
// returned value is a struct, not a pointer, so type switches match on
// value types.
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeJoinBus:
		return decodeAs[JoinBus](env)
	case TypeLeaveBus:
		return decodeAs[LeaveBus](env)
	case TypeSelectSeat:
		return decodeAs[SelectSeat](env)
	case TypeBookingCompleted:
		return decodeAs[BookingCompleted](env)
	case TypeSeatStatus:
		return decodeAs[SeatStatus](env)
	case TypeSeatSelected:
		return decodeAs[SeatSelected](env)
	case TypeSeatDeselected:
		return decodeAs[SeatDeselected](env)
	case TypeSeatsBooked:
		return decodeAs[SeatsBooked](env)
	case TypeSeatsExpired:
		return decodeAs[SeatsExpired](env)
	case TypeYourSeatExpired:
		return decodeAs[YourSeatExpired](env)
	case TypeSeatLocked:
		return decodeAs[SeatLocked](env)
	case TypeSeatUnavailable:
		return decodeAs[SeatUnavailable](env)
	case TypeSeatHeld:
		return decodeAs[SeatHeld](env)
	case TypeError:
		return decodeAs[Error](env)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func decodeAs[T Message](env envelope) (Message, error) {
	var m T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return m, nil
}
