package service

import (
	"context"
	"fmt"
	"log"

	"github.com/IBM/sarama"

	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

// KafkaPublisher sends events with a SyncProducer, keyed by bus id so the
// events of one bus stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a SyncProducer to brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = queue.BookingConfirmedQueue
	}
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) PublishBookingConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.BusID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("reference"), Value: []byte(ev.Reference)},
			{Key: []byte("event"), Value: []byte(queue.BookingConfirmedQueue)},
		},
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		log.Printf("kafka: publish %s failed: %v", ev.Reference, err)
		return fmt.Errorf("send booking event: %w", err)
	}
	log.Printf("kafka: booking %s -> %s/%d@%d", ev.Reference, k.topic, partition, offset)
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
