// Package service publishes booking-confirmed events to the configured
// message broker.  Publish errors are logged and returned; the hub never
// fails a booking because the broker is down.
package service

import (
	"context"
	"encoding/json"
	"log"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

// Publisher emits booking-confirmed events.
type Publisher interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	Close() error
}

// NewPublisher returns the publisher selected by cfg.Kind.  Kafka producer
// creation fails fast when no broker is reachable; AMQP connects lazily.
func NewPublisher(cfg config.BrokerConfig) (Publisher, error) {
	switch cfg.Kind {
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "amqp":
		return NewAMQPPublisher(cfg.RabbitURL), nil
	default:
		return LogPublisher{}, nil
	}
}

// LogPublisher only logs events.  It is used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) PublishBookingConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	log.Printf("booking: confirmed %s bus=%s seats=%v total=%d (no broker)", ev.Reference, ev.BusID, ev.Seats, ev.TotalPrice)
	return nil
}

func (LogPublisher) Close() error { return nil }

func encodeEvent(ev queue.BookingConfirmedEvent) ([]byte, error) {
	return json.Marshal(ev)
}
