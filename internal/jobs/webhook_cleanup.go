package jobs

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/rs/zerolog"
)

var cleanupLogger zerolog.Logger

func init() {
	cleanupLogger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)
}

type WebhookCleanupRepository interface {
	DeleteProcessedWebhooks(ctx context.Context, processedBefore time.Time, limit int) ([]*payments.WebhookEvent, error)
}

// WebhookCleanupJob prunes processed webhook deliveries once they are past
// the window in which providers redeliver.
type WebhookCleanupJob struct {
	repo      WebhookCleanupRepository
	clock     clock.Clock
	olderThan time.Duration
	interval  time.Duration
	batchSize int
	stopOnce  sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
}

func NewWebhookCleanupJob(repo WebhookCleanupRepository, clk clock.Clock, olderThan, interval time.Duration, batchSize int) *WebhookCleanupJob {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &WebhookCleanupJob{
		repo:      repo,
		clock:     clk,
		olderThan: olderThan,
		interval:  interval,
		batchSize: batchSize,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

func (j *WebhookCleanupJob) Start() {
	go j.run()
}

func (j *WebhookCleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopChan)
	})
	<-j.doneChan
}

func (j *WebhookCleanupJob) run() {
	defer close(j.doneChan)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Cleanup()

	for {
		select {
		case <-ticker.C:
			j.Cleanup()
		case <-j.stopChan:
			cleanupLogger.Info().Msg("Webhook cleanup job stopped")
			return
		}
	}
}

// Cleanup deletes batches until fewer than batchSize rows come back and
// returns the number of deliveries removed.
func (j *WebhookCleanupJob) Cleanup() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	startTime := time.Now()
	cutoff := j.clock.Now().Add(-j.olderThan)

	cleanupLogger.Info().
		Str("event", "cleanup_started").
		Dur("older_than", j.olderThan).
		Msg("Starting webhook cleanup")

	total := 0
	for {
		deleted, err := j.repo.DeleteProcessedWebhooks(ctx, cutoff, j.batchSize)
		if err != nil {
			cleanupLogger.Error().
				Str("event", "cleanup_error").
				Int("events_deleted", total).
				Err(err).
				Msg("Failed to delete webhook events")
			return total
		}
		for _, ev := range deleted {
			cleanupLogger.Debug().
				Str("event", "webhook_deleted").
				Str("provider", string(ev.Rail)).
				Str("event_id", ev.EventID).
				Str("event_type", ev.EventType).
				Msg("Deleted webhook event")
		}
		total += len(deleted)
		if len(deleted) < j.batchSize {
			break
		}
	}

	cleanupLogger.Info().
		Str("event", "cleanup_completed").
		Int("events_deleted", total).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Webhook cleanup completed")
	return total
}
