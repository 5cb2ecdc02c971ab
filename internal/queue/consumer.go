// Package queue carries booking-confirmed events between the coordination
// hub and background consumers.  Consumers append every confirmed booking
// to logs/booking.log.
package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strconv"
    "strings"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// BookingLog appends one line per confirmed booking to Dir/booking.log.
type BookingLog struct {
    Dir string

    mu sync.Mutex
}

// NewBookingLog returns a log writing under dir (default "logs").
func NewBookingLog(dir string) *BookingLog {
    if dir == "" {
        dir = "logs"
    }
    return &BookingLog{Dir: dir}
}

// Append writes ev as a single human-readable line.
func (l *BookingLog) Append(ev BookingConfirmedEvent) error {
    l.mu.Lock()
    defer l.mu.Unlock()
    if err := os.MkdirAll(l.Dir, 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(filepath.Join(l.Dir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(formatLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// Handle decodes a raw event body and appends it.
func (l *BookingLog) Handle(body []byte) error {
    var ev BookingConfirmedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Reference == "" || ev.BusID == "" || len(ev.Seats) == 0 {
        return errors.New("incomplete booking event")
    }
    return l.Append(ev)
}

func formatLine(ev BookingConfirmedEvent) string {
    seats := make([]string, len(ev.Seats))
    for i, n := range ev.Seats {
        seats[i] = strconv.Itoa(n)
    }
    return fmt.Sprintf("[%s] Booking confirmed | ref=%s | booking_id=%d | user_id=%s | bus_id=%s | operator=%q | bus=%q | total=%d | seats=[%s]\n",
        ev.ConfirmedAt, ev.Reference, ev.BookingID, ev.UserID, ev.BusID, ev.Operator, ev.BusNumber, ev.TotalPrice, strings.Join(seats, ","))
}

// StartBookingConsumer connects to RabbitMQ, declares the booking.confirmed
// queue (durable) and appends every delivery to the booking log.  It
// reconnects with exponential backoff (1s doubling to 30s) and returns only
// when ctx is done.  Malformed messages are rejected without requeue.
func StartBookingConsumer(ctx context.Context, url string, bl *BookingLog) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Printf("booking-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
            if !sleepCtx(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, bl)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Printf("booking-consumer: consume loop ended: %v; reconnecting", err)
        if !sleepCtx(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, bl *BookingLog) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Printf("booking-consumer: set QoS failed: %v", err)
    }
    if _, err := ch.QueueDeclare(BookingConfirmedQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(BookingConfirmedQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            settle(bl, d.Body, d)
        }
    }
}

// acknowledger is the part of amqp.Delivery settle needs.
type acknowledger interface {
    Ack(multiple bool) error
    Nack(multiple, requeue bool) error
}

func settle(bl *BookingLog, body []byte, a acknowledger) {
    if err := bl.Handle(body); err != nil {
        log.Printf("booking-consumer: handle message failed: %v", err)
        _ = a.Nack(false, false) // reject, do not requeue to avoid tight loops
        return
    }
    _ = a.Ack(false)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
