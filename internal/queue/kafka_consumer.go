package queue

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/IBM/sarama"
)

// KafkaGroupID is the consumer group of the booking log consumer.
const KafkaGroupID = "bus-booking-log"

// StartKafkaBookingConsumer consumes topic as part of KafkaGroupID and
// appends every event to the booking log.  It returns when ctx is done.
func StartKafkaBookingConsumer(ctx context.Context, brokers []string, topic string, bl *BookingLog) error {
    cfg := sarama.NewConfig()
    cfg.Consumer.Return.Errors = true
    cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
    cfg.Consumer.Offsets.AutoCommit.Enable = true
    cfg.Consumer.Offsets.AutoCommit.Interval = time.Second

    group, err := sarama.NewConsumerGroup(brokers, KafkaGroupID, cfg)
    if err != nil {
        return fmt.Errorf("kafka consumer group: %w", err)
    }
    defer func() { _ = group.Close() }()

    go func() {
        for err := range group.Errors() {
            log.Printf("booking-consumer: kafka: %v", err)
        }
    }()

    handler := &bookingClaimHandler{log: bl}
    for {
        if err := group.Consume(ctx, []string{topic}, handler); err != nil {
            if errors.Is(err, sarama.ErrClosedConsumerGroup) {
                return nil
            }
            log.Printf("booking-consumer: kafka consume: %v", err)
            if !sleepCtx(ctx, time.Second) {
                return ctx.Err()
            }
        }
        if ctx.Err() != nil {
            return ctx.Err()
        }
    }
}

// bookingClaimHandler implements sarama.ConsumerGroupHandler.  Malformed
// messages are logged and marked so they are not redelivered forever.
type bookingClaimHandler struct {
    log *BookingLog
}

func (h *bookingClaimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *bookingClaimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *bookingClaimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
    for {
        select {
        case msg, ok := <-claim.Messages():
            if !ok {
                return nil
            }
            if err := h.log.Handle(msg.Value); err != nil {
                log.Printf("booking-consumer: partition %d offset %d: %v", msg.Partition, msg.Offset, err)
            }
            session.MarkMessage(msg, "")
        case <-session.Context().Done():
            return nil
        }
    }
}
