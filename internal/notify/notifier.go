package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

var notifyLogger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "notify").Logger()

const (
	TypePaymentReleased = "payment:released"
	TypePaymentCaptured = "payment:captured"

	DefaultQueue = "notifications"
)

type ReleasedPayload struct {
	UserID    string `json:"user_id"`
	BookingID string `json:"booking_id"`
}

type CapturedPayload struct {
	UserID    string         `json:"user_id"`
	BookingID string         `json:"booking_id"`
	Amount    money.Amount   `json:"amount"`
	Currency  money.Currency `json:"currency"`
}

// Enqueuer is the part of *asynq.Client the notifier uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier hands payment notifications to the asynq queue. Settlement never
// waits on delivery; the worker side retries on its own.
type Notifier struct {
	client   Enqueuer
	queue    string
	maxRetry int
}

var _ payments.Notifier = (*Notifier)(nil)

func NewNotifier(client Enqueuer, queue string) *Notifier {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Notifier{client: client, queue: queue, maxRetry: 10}
}

func NewReleasedTask(p ReleasedPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePaymentReleased, b), nil
}

func NewCapturedTask(p CapturedPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePaymentCaptured, b), nil
}

func (n *Notifier) NotifyPaymentReleased(ctx context.Context, userID, bookingID string) error {
	task, err := NewReleasedTask(ReleasedPayload{UserID: userID, BookingID: bookingID})
	if err != nil {
		return fmt.Errorf("failed to build task: %w", err)
	}
	return n.enqueue(ctx, task, TypePaymentReleased+":"+bookingID, bookingID)
}

func (n *Notifier) NotifyPaymentCaptured(ctx context.Context, userID, bookingID string, amount money.Amount, currency money.Currency) error {
	task, err := NewCapturedTask(CapturedPayload{UserID: userID, BookingID: bookingID, Amount: amount, Currency: currency})
	if err != nil {
		return fmt.Errorf("failed to build task: %w", err)
	}
	return n.enqueue(ctx, task, TypePaymentCaptured+":"+bookingID, bookingID)
}

// enqueue uses a task id per booking and type so a replayed settlement does
// not notify the passenger twice.
func (n *Notifier) enqueue(ctx context.Context, task *asynq.Task, taskID, bookingID string) error {
	info, err := n.client.EnqueueContext(ctx, task,
		asynq.Queue(n.queue),
		asynq.TaskID(taskID),
		asynq.MaxRetry(n.maxRetry),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		notifyLogger.Debug().
			Str("event", "notification_duplicate").
			Str("type", task.Type()).
			Str("booking_id", bookingID).
			Msg("Notification already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}

	notifyLogger.Info().
		Str("event", "notification_queued").
		Str("type", task.Type()).
		Str("booking_id", bookingID).
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Msg("Notification queued")
	return nil
}
