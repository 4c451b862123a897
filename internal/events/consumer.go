package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/harman698/OnGoPool/internal/domain/payments"
)

// DriverDecision is the payload of the driver decision topic.
type DriverDecision struct {
	BookingID string `json:"booking_id"`
	Decision  string `json:"decision"`
}

type Resolver interface {
	Resolve(ctx context.Context, bookingID string, decision payments.Decision) (*payments.Resolution, error)
}

// DecisionHandler routes driver decisions to the settlement engine. It is a
// sarama.ConsumerGroupHandler.
type DecisionHandler struct {
	resolver   Resolver
	maxRetries int
	backoff    time.Duration
}

var _ sarama.ConsumerGroupHandler = (*DecisionHandler)(nil)

func NewDecisionHandler(resolver Resolver, maxRetries int, backoff time.Duration) *DecisionHandler {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DecisionHandler{resolver: resolver, maxRetries: maxRetries, backoff: backoff}
}

func (h *DecisionHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *DecisionHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *DecisionHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.HandleMessage(sess.Context(), msg.Value); err != nil && sess.Context().Err() != nil {
				// Shutting down mid-retry: leave the offset for the next owner.
				return nil
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// HandleMessage resolves one decision. Retryable failures are retried with
// a doubling backoff; definitive outcomes are logged and dropped.
func (h *DecisionHandler) HandleMessage(ctx context.Context, value []byte) error {
	var msg DriverDecision
	if err := json.Unmarshal(value, &msg); err != nil {
		eventsLogger.Warn().Str("event", "decision_invalid").Err(err).Msg("Invalid driver decision payload")
		return fmt.Errorf("%w: %v", payments.ErrValidation, err)
	}
	decision := payments.Decision(msg.Decision)
	if msg.BookingID == "" || (decision != payments.DecisionAccept && decision != payments.DecisionDecline) {
		eventsLogger.Warn().
			Str("event", "decision_invalid").
			Str("booking_id", msg.BookingID).
			Str("decision", msg.Decision).
			Msg("Driver decision rejected")
		return fmt.Errorf("%w: unsupported decision %q", payments.ErrValidation, msg.Decision)
	}

	backoff := h.backoff
	for attempt := 0; ; attempt++ {
		res, err := h.resolver.Resolve(ctx, msg.BookingID, decision)
		if err == nil {
			eventsLogger.Info().
				Str("event", "decision_resolved").
				Str("booking_id", msg.BookingID).
				Str("decision", msg.Decision).
				Str("state", string(res.State)).
				Bool("noop", res.Noop).
				Msg("Driver decision settled")
			return nil
		}
		if !payments.IsRetryable(err) || attempt >= h.maxRetries {
			level := eventsLogger.Warn()
			if payments.IsRetryable(err) {
				level = eventsLogger.Error().Bool("alert", true)
			}
			level.
				Str("event", "decision_failed").
				Str("booking_id", msg.BookingID).
				Str("decision", msg.Decision).
				Int("attempts", attempt+1).
				Err(err).
				Msg("Driver decision could not be settled")
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// DecisionConsumer runs the consumer group until its context ends.
type DecisionConsumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler sarama.ConsumerGroupHandler
}

func NewDecisionConsumer(brokers []string, groupID, topic string, handler sarama.ConsumerGroupHandler) (*DecisionConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	if topic == "" {
		topic = DefaultDecisionTopic
	}
	eventsLogger.Info().Strs("brokers", brokers).Str("group", groupID).Str("topic", topic).Msg("Kafka consumer initialized")
	return &DecisionConsumer{group: group, topics: []string{topic}, handler: handler}, nil
}

func (c *DecisionConsumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			eventsLogger.Error().Str("event", "consumer_error").Err(err).Msg("Kafka consumer error")
		}
	}()

	for {
		if err := c.group.Consume(ctx, c.topics, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			eventsLogger.Error().Err(err).Msg("Consumer group session ended with error")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *DecisionConsumer) Close() error {
	return c.group.Close()
}
