package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

// AMQPPublisher publishes to the durable booking.confirmed queue on the
// default exchange.  The connection is opened on first use and reopened
// after any failure.
type AMQPPublisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{url: url}
}

func (p *AMQPPublisher) PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		log.Printf("rabbitmq: %v", err)
		return err
	}
	err = ch.PublishWithContext(ctx,
		"",                          // default exchange
		queue.BookingConfirmedQueue, // routing key = queue name
		false,                       // mandatory
		false,                       // immediate
		publishing(body, ev.Reference),
	)
	if err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		p.reset()
		return err
	}
	return nil
}

// Close closes the channel and connection if open.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open failed: %w", err)
	}
	if _, err := ch.QueueDeclare(queue.BookingConfirmedQueue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare failed: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// publishing builds a persistent JSON message.
func publishing(body []byte, reference string) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    reference,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
}
