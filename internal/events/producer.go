package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/IBM/sarama"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/rs/zerolog"
)

var eventsLogger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "events").Logger()

const (
	DefaultSettlementTopic = "payment.settled"
	DefaultDecisionTopic   = "driver.decisions"
)

// Producer publishes settlement events keyed by booking id so every event of
// a booking lands on the same partition.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

var _ payments.Publisher = (*Producer)(nil)

func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	eventsLogger.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka producer initialized")
	return NewProducerFromSync(producer, topic), nil
}

func NewProducerFromSync(producer sarama.SyncProducer, topic string) *Producer {
	if topic == "" {
		topic = DefaultSettlementTopic
	}
	return &Producer{producer: producer, topic: topic}
}

func (p *Producer) PublishSettlement(ctx context.Context, ev payments.SettlementEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.BookingID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("state"), Value: []byte(ev.State)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send settlement event: %w", err)
	}

	eventsLogger.Info().
		Str("event", "settlement_published").
		Str("booking_id", ev.BookingID).
		Str("state", string(ev.State)).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Published settlement event")
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
