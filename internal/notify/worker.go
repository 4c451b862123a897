package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Sender delivers a message to a user. Push delivery itself belongs to the
// messaging subsystem; this is its client surface.
type Sender interface {
	Send(ctx context.Context, userID, title, body string, data map[string]string) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, userID, title, body string, data map[string]string) error {
	notifyLogger.Info().
		Str("event", "notification_sent").
		Str("user_id", userID).
		Str("title", title).
		Str("body", body).
		Interface("data", data).
		Msg("Notification delivered to log")
	return nil
}

// NewServeMux routes payment notification tasks to the sender.
func NewServeMux(sender Sender) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePaymentReleased, handleReleased(sender))
	mux.HandleFunc(TypePaymentCaptured, handleCaptured(sender))
	return mux
}

func handleReleased(sender Sender) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p ReleasedPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			notifyLogger.Error().Str("type", task.Type()).Err(err).Msg("Invalid task payload")
			return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
		}
		return sender.Send(ctx, p.UserID,
			"Payment released",
			"Your ride request was not confirmed, the hold on your payment has been released.",
			map[string]string{"booking_id": p.BookingID, "kind": "released"},
		)
	}
}

func handleCaptured(sender Sender) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p CapturedPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			notifyLogger.Error().Str("type", task.Type()).Err(err).Msg("Invalid task payload")
			return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
		}
		return sender.Send(ctx, p.UserID,
			"Ride confirmed",
			fmt.Sprintf("Your driver accepted. %s %s has been charged.", p.Amount.String(), p.Currency),
			map[string]string{
				"booking_id": p.BookingID,
				"kind":       "captured",
				"amount":     p.Amount.String(),
				"currency":   string(p.Currency),
			},
		)
	}
}

// Worker runs the asynq server for notification tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(redisOpt asynq.RedisConnOpt, queue string, concurrency int, sender Sender) *Worker {
	if queue == "" {
		queue = DefaultQueue
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			notifyLogger.Warn().
				Str("event", "notification_failed").
				Str("type", task.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Err(err).
				Msg("Notification task failed")
		}),
	})
	return &Worker{server: srv, mux: NewServeMux(sender)}
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	notifyLogger.Info().Msg("Notification worker starting")
	return w.server.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
