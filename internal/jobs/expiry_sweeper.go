package jobs

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var sweepLogger zerolog.Logger

func init() {
	sweepLogger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", "expiry_sweeper").
		Logger().
		Level(zerolog.InfoLevel)
}

const sweeperLockName = "expiry-sweeper"

// SweepRepository is the slice of the payment store the sweeper reads.
type SweepRepository interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*payments.Authorization, error)
	ListAbandoned(ctx context.Context, createdBefore time.Time, limit int) ([]*payments.Authorization, error)
	TransitionAuthorization(ctx context.Context, id string, t payments.Transition) (bool, error)
}

type Resolver interface {
	Resolve(ctx context.Context, bookingID string, decision payments.Decision) (*payments.Resolution, error)
}

// Locker keeps replicas from sweeping the same rows at once.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, name, token string) error
	Beat(ctx context.Context, name string, ts time.Time, ttl time.Duration) error
}

type SweeperConfig struct {
	Interval        time.Duration
	BatchSize       int
	ApprovalTimeout time.Duration
	// RateLimit caps Resolve calls per second; zero means unlimited.
	RateLimit float64
}

type SweepResult struct {
	Expired   int
	// Captured counts accepted holds whose interrupted capture was finished.
	Captured  int
	Skipped   int
	Failed    int
	Abandoned int
}

type ExpirySweeper struct {
	repo     SweepRepository
	resolver Resolver
	clock    clock.Clock
	locker   Locker
	limiter  *rate.Limiter
	cfg      SweeperConfig

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	lastRun time.Time
}

type SweeperOption func(*ExpirySweeper)

func WithLocker(l Locker) SweeperOption {
	return func(j *ExpirySweeper) {
		j.locker = l
	}
}

func NewExpirySweeper(repo SweepRepository, resolver Resolver, clk clock.Clock, cfg SweeperConfig, opts ...SweeperOption) *ExpirySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}
	j := &ExpirySweeper{
		repo:     repo,
		resolver: resolver,
		clock:    clk,
		limiter:  rate.NewLimiter(limit, burst),
		cfg:      cfg,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (j *ExpirySweeper) Start(ctx context.Context) {
	go j.run(ctx)
}

func (j *ExpirySweeper) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopChan)
	})
	<-j.doneChan
}

// LastRun is the completion time of the latest tick, zero before the first.
func (j *ExpirySweeper) LastRun() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastRun
}

// Healthy reports whether a tick completed within three intervals of now.
func (j *ExpirySweeper) Healthy(now time.Time) bool {
	last := j.LastRun()
	return !last.IsZero() && now.Sub(last) <= 3*j.cfg.Interval
}

func (j *ExpirySweeper) run(ctx context.Context) {
	defer close(j.doneChan)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.tick(ctx)

	for {
		select {
		case <-ticker.C:
			j.tick(ctx)
		case <-ctx.Done():
			sweepLogger.Info().Msg("Expiry sweeper stopped")
			return
		case <-j.stopChan:
			sweepLogger.Info().Msg("Expiry sweeper stopped")
			return
		}
	}
}

func (j *ExpirySweeper) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 5*time.Minute)
	defer cancel()

	if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
		sweepLogger.Error().Str("event", "sweep_error").Err(err).Msg("Sweep failed")
	}
}

// RunOnce performs a single sweep.
func (j *ExpirySweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	startTime := time.Now()

	if j.locker != nil {
		token, ok, err := j.locker.Acquire(ctx, sweeperLockName, j.cfg.Interval)
		if err != nil {
			return res, err
		}
		if !ok {
			sweepLogger.Debug().Str("event", "sweep_skipped").Msg("Another replica holds the sweep lock")
			j.markRun(ctx)
			return res, nil
		}
		defer func() {
			if err := j.locker.Release(context.WithoutCancel(ctx), sweeperLockName, token); err != nil {
				sweepLogger.Warn().Err(err).Msg("Failed to release sweep lock")
			}
		}()
	}

	now := j.clock.Now()
	sweepLogger.Info().
		Str("event", "sweep_started").
		Time("now", now).
		Msg("Starting expiry sweep")

	expired, err := j.repo.ListExpired(ctx, now, j.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	for _, auth := range expired {
		if err := j.limiter.Wait(ctx); err != nil {
			return res, err
		}
		resolution, err := j.resolver.Resolve(ctx, auth.BookingID, payments.DecisionExpire)
		switch {
		case err == nil && resolution.Noop:
			res.Skipped++
		case err == nil && resolution.State == payments.StateCaptured:
			res.Captured++
			sweepLogger.Info().
				Str("event", "hold_capture_retried").
				Str("booking_id", auth.BookingID).
				Str("authorization_id", auth.ID).
				Msg("Overdue capture completed")
		case err == nil:
			res.Expired++
			sweepLogger.Info().
				Str("event", "hold_expired").
				Str("booking_id", auth.BookingID).
				Str("authorization_id", auth.ID).
				Str("state", string(resolution.State)).
				Msg("Expired hold released")
		case errors.Is(err, payments.ErrSettlementInProgress), errors.Is(err, payments.ErrDeadlineNotReached):
			res.Skipped++
		default:
			res.Failed++
			sweepLogger.Warn().
				Str("event", "expire_failed").
				Str("booking_id", auth.BookingID).
				Str("authorization_id", auth.ID).
				Bool("retryable", payments.IsRetryable(err)).
				Err(err).
				Msg("Failed to expire hold, will retry next sweep")
		}
	}

	if j.cfg.ApprovalTimeout > 0 {
		abandoned, err := j.repo.ListAbandoned(ctx, now.Add(-j.cfg.ApprovalTimeout), j.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		for _, auth := range abandoned {
			ok, err := j.repo.TransitionAuthorization(ctx, auth.ID, payments.Transition{
				From:      payments.StateCreated,
				To:        payments.StateFailed,
				LastError: "payer approval timed out",
			})
			if err != nil {
				sweepLogger.Warn().Str("authorization_id", auth.ID).Err(err).Msg("Failed to close abandoned hold")
				continue
			}
			if ok {
				res.Abandoned++
				sweepLogger.Info().
					Str("event", "hold_abandoned").
					Str("booking_id", auth.BookingID).
					Str("authorization_id", auth.ID).
					Msg("Closed hold never approved by payer")
			}
		}
	}

	j.markRun(ctx)
	sweepLogger.Info().
		Str("event", "sweep_completed").
		Int("expired", res.Expired).
		Int("captured", res.Captured).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Int("abandoned", res.Abandoned).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Expiry sweep completed")
	return res, nil
}

func (j *ExpirySweeper) markRun(ctx context.Context) {
	now := j.clock.Now()
	j.mu.Lock()
	j.lastRun = now
	j.mu.Unlock()
	if j.locker != nil {
		if err := j.locker.Beat(ctx, sweeperLockName, now, 3*j.cfg.Interval); err != nil {
			sweepLogger.Warn().Err(err).Msg("Failed to publish sweeper heartbeat")
		}
	}
}
