package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

var ev = queue.BookingConfirmedEvent{
	BookingID:  1,
	Reference:  "ref-1",
	BusID:      "bus-1",
	Seats:      []int{3, 4},
	TotalPrice: 1050,
}

func TestKafkaPublisher_SendsKeyedByBus(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		key, err := m.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "bus-1", string(key))
		assert.Equal(t, "booking.confirmed", m.Topic)

		val, err := m.Value.Encode()
		require.NoError(t, err)
		var got queue.BookingConfirmedEvent
		require.NoError(t, json.Unmarshal(val, &got))
		assert.Equal(t, ev.Reference, got.Reference)
		assert.Equal(t, []int{3, 4}, got.Seats)
		return nil
	})

	p := NewKafkaPublisherWithProducer(producer, "")
	require.NoError(t, p.PublishBookingConfirmed(context.Background(), ev))
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_ReturnsSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherWithProducer(producer, "bookings")
	err := p.PublishBookingConfirmed(context.Background(), ev)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestPublishing(t *testing.T) {
	m := publishing([]byte(`{}`), "ref-1")
	assert.Equal(t, "application/json", m.ContentType)
	assert.Equal(t, "ref-1", m.MessageId)
	assert.EqualValues(t, 2, m.DeliveryMode)
}

func TestNewPublisher_Fallbacks(t *testing.T) {
	p, err := NewPublisher(config.BrokerConfig{Kind: "none"})
	require.NoError(t, err)
	assert.IsType(t, LogPublisher{}, p)
	assert.NoError(t, p.PublishBookingConfirmed(context.Background(), ev))

	p, err = NewPublisher(config.BrokerConfig{Kind: "amqp", RabbitURL: "amqp://localhost:1/"})
	require.NoError(t, err)
	assert.IsType(t, &AMQPPublisher{}, p)
	assert.NoError(t, p.Close())
}
