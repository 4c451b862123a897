package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/domain/earnings"
	"github.com/harman698/OnGoPool/internal/money"
	"golang.org/x/sync/singleflight"
)

var errReleasedAtProvider = errors.New("provider released the authorization")

const (
	defaultLeaseTTL        = 2 * time.Minute
	defaultMaxVoidAttempts = 5
	defaultLeaseWait       = 2 * time.Second
	defaultLeasePoll       = 50 * time.Millisecond
)

type SettlementServiceInterface interface {
	Resolve(ctx context.Context, bookingID string, decision Decision) (*Resolution, error)
	Refund(ctx context.Context, authorizationID string, amount money.Amount) (*RefundResult, error)
}

// SettlementEngine resolves an authorized hold to captured or voided.
type SettlementEngine struct {
	repo            Repository
	bookings        Bookings
	providers       Providers
	ledger          EarningsLedger
	notifier        Notifier
	publisher       Publisher
	cache           AuthorizationCache
	clock           clock.Clock
	feeRate         money.Rate
	leaseTTL        time.Duration
	leaseWait       time.Duration
	leasePoll       time.Duration
	maxVoidAttempts int
	singleFlight    *singleflight.Group
}

type SettlementOption func(*SettlementEngine)

func WithServiceFee(rate money.Rate) SettlementOption {
	return func(e *SettlementEngine) {
		e.feeRate = rate
	}
}

func WithNotifier(n Notifier) SettlementOption {
	return func(e *SettlementEngine) {
		if n != nil {
			e.notifier = n
		}
	}
}

func WithPublisher(p Publisher) SettlementOption {
	return func(e *SettlementEngine) {
		if p != nil {
			e.publisher = p
		}
	}
}

func WithSettlementCache(c AuthorizationCache) SettlementOption {
	return func(e *SettlementEngine) {
		e.cache = c
	}
}

func WithLeaseTTL(d time.Duration) SettlementOption {
	return func(e *SettlementEngine) {
		if d > 0 {
			e.leaseTTL = d
		}
	}
}

// WithLeaseWait bounds how long a losing resolver waits for the winner.
func WithLeaseWait(wait, poll time.Duration) SettlementOption {
	return func(e *SettlementEngine) {
		e.leaseWait = wait
		if poll > 0 {
			e.leasePoll = poll
		}
	}
}

func WithMaxVoidAttempts(n int) SettlementOption {
	return func(e *SettlementEngine) {
		if n > 0 {
			e.maxVoidAttempts = n
		}
	}
}

func NewSettlementEngine(repo Repository, bookings Bookings, providers Providers, ledger EarningsLedger, clk clock.Clock, opts ...SettlementOption) *SettlementEngine {
	e := &SettlementEngine{
		repo:            repo,
		bookings:        bookings,
		providers:       providers,
		ledger:          ledger,
		notifier:        nopNotifier{},
		publisher:       nopPublisher{},
		clock:           clk,
		leaseTTL:        defaultLeaseTTL,
		leaseWait:       defaultLeaseWait,
		leasePoll:       defaultLeasePoll,
		maxVoidAttempts: defaultMaxVoidAttempts,
		singleFlight:    &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve settles the booking's hold for a driver decision or an expiry.
// Calls on an already terminal hold return that state with Noop set.
func (e *SettlementEngine) Resolve(ctx context.Context, bookingID string, decision Decision) (*Resolution, error) {
	if bookingID == "" {
		return nil, fmt.Errorf("%w: booking_id is required", ErrValidation)
	}
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}

	// The shared call outlives whichever caller started it.
	key := bookingID + ":" + string(decision)
	result, err, shared := e.singleFlight.Do(key, func() (interface{}, error) {
		return e.resolve(context.WithoutCancel(ctx), bookingID, decision)
	})
	if err != nil {
		return nil, err
	}
	res := *result.(*Resolution)
	if shared {
		paymentsLogger.Debug().
			Str("event", "resolve_shared").
			Str("booking_id", bookingID).
			Str("decision", string(decision)).
			Msg("Concurrent resolve collapsed")
	}
	return &res, nil
}

func (e *SettlementEngine) resolve(ctx context.Context, bookingID string, decision Decision) (*Resolution, error) {
	booking, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrBookingNotFound)
	}

	auth, err := e.repo.GetActiveAuthorization(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active authorization: %w", err)
	}
	if auth == nil {
		latest, err := e.repo.GetLatestAuthorization(ctx, bookingID)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest authorization: %w", err)
		}
		if latest != nil && latest.State.IsTerminal() {
			return noopResolution(booking, latest), nil
		}
		return nil, ErrNoActiveHold
	}

	if auth.State == StateCreated {
		return e.resolveUnapproved(ctx, booking, auth, decision)
	}
	return e.resolveAuthorized(ctx, booking, auth, decision)
}

// resolveUnapproved handles a hold the payer never approved. Nothing is held
// at the provider, so the row is closed without a provider call and the
// booking keeps its payment status.
func (e *SettlementEngine) resolveUnapproved(ctx context.Context, booking *Booking, auth *Authorization, decision Decision) (*Resolution, error) {
	if decision == DecisionAccept {
		return nil, fmt.Errorf("%w: hold was never approved by the payer", ErrInvalidState)
	}
	ok, err := e.repo.TransitionAuthorization(ctx, auth.ID, Transition{
		From:      StateCreated,
		To:        StateVoided,
		LastError: "closed before payer approval",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close unapproved hold: %w", err)
	}
	if !ok {
		current, err := e.repo.GetAuthorization(ctx, auth.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload authorization: %w", err)
		}
		if current == nil {
			return nil, ErrAuthorizationNotFound
		}
		if current.State == StateAuthorized {
			return e.resolveAuthorized(ctx, booking, current, decision)
		}
		return noopResolution(booking, current), nil
	}
	e.invalidate(ctx, auth.ID)

	paymentsLogger.Info().
		Str("event", "hold_closed_unapproved").
		Str("booking_id", booking.ID).
		Str("authorization_id", auth.ID).
		Str("decision", string(decision)).
		Msg("Unapproved hold closed without provider call")

	return &Resolution{
		BookingID:       booking.ID,
		AuthorizationID: auth.ID,
		State:           StateVoided,
		PaymentStatus:   booking.PaymentStatus,
	}, nil
}

func (e *SettlementEngine) resolveAuthorized(ctx context.Context, booking *Booking, auth *Authorization, decision Decision) (*Resolution, error) {
	now := e.clock.Now()
	deadline := responseDeadline(booking, auth)
	passed := deadline != nil && !now.Before(*deadline)

	// An accept that reached the provider before the deadline is finished by
	// capture retries, from the driver path or the sweep.
	if auth.CaptureStarted() {
		switch decision {
		case DecisionAccept:
		case DecisionExpire:
			if !passed {
				return nil, ErrDeadlineNotReached
			}
			decision = DecisionAccept
		default:
			return nil, fmt.Errorf("%w: capture already started", ErrInvalidState)
		}
	}

	switch {
	case decision == DecisionAccept && passed && !auth.CaptureStarted():
		return nil, ErrResponseWindowClosed
	case decision == DecisionDecline && passed:
		decision = DecisionExpire
	case decision == DecisionExpire && !passed:
		return nil, ErrDeadlineNotReached
	}
	if decision == DecisionAccept && booking.DriverID == "" {
		return nil, fmt.Errorf("%w: booking has no driver", ErrValidation)
	}

	provider, err := e.providers.Get(auth.Rail)
	if err != nil {
		return nil, err
	}

	token := uuid.New().String()
	ok, err := e.repo.AcquireLease(ctx, auth.ID, StateAuthorized, token, now, now.Add(e.leaseTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire settlement lease: %w", err)
	}
	if !ok {
		return e.awaitWinner(ctx, booking, auth.ID)
	}

	if decision == DecisionAccept {
		return e.capture(ctx, provider, booking, auth, token, passed)
	}

	// auth may predate a capture attempt that finished before our lease.
	current, err := e.repo.GetAuthorization(ctx, auth.ID)
	if err == nil && current != nil && current.CaptureStarted() {
		if rErr := e.repo.ReleaseLease(ctx, auth.ID, token, ""); rErr != nil {
			paymentsLogger.Error().Str("authorization_id", auth.ID).Err(rErr).Msg("Failed to release lease")
		}
		return nil, fmt.Errorf("%w: capture started concurrently", ErrSettlementInProgress)
	}
	return e.void(ctx, provider, booking, auth, token, decision)
}

func (e *SettlementEngine) capture(ctx context.Context, provider Provider, booking *Booking, auth *Authorization, token string, overdue bool) (*Resolution, error) {
	if err := e.repo.MarkCaptureAttempt(ctx, auth.ID, token, e.clock.Now()); err != nil {
		if rErr := e.repo.ReleaseLease(ctx, auth.ID, token, ""); rErr != nil {
			paymentsLogger.Error().Str("authorization_id", auth.ID).Err(rErr).Msg("Failed to release lease")
		}
		return nil, err
	}

	callCtx := WithIdempotencyKey(ctx, "capture-"+auth.ID)
	captureID, err := provider.Capture(callCtx, auth.ProviderAuthorizationID, auth.Amount)
	if errors.Is(err, ErrInvalidState) {
		captureID, err = e.recoverOutcome(ctx, provider, auth, StateCaptured, err)
	}
	if errors.Is(err, errReleasedAtProvider) {
		// Nothing is held any more; record where the money actually is.
		paymentsLogger.Error().
			Str("event", "capture_hold_lost").
			Bool("alert", true).
			Str("booking_id", booking.ID).
			Str("authorization_id", auth.ID).
			Err(err).
			Msg("Provider released the hold before capture")
		return e.finalizeVoid(ctx, booking, auth, token, DecisionExpire)
	}
	if err != nil {
		if rErr := e.repo.ReleaseLease(ctx, auth.ID, token, err.Error()); rErr != nil {
			paymentsLogger.Error().Str("authorization_id", auth.ID).Err(rErr).Msg("Failed to release lease")
		}
		logEvent := paymentsLogger.Warn()
		if overdue {
			logEvent = paymentsLogger.Error().Bool("alert", true)
		}
		logEvent.
			Str("event", "capture_failed").
			Str("booking_id", booking.ID).
			Str("authorization_id", auth.ID).
			Str("provider", string(auth.Rail)).
			Bool("retryable", IsRetryable(err)).
			Bool("overdue", overdue).
			Err(err).
			Msg("Capture failed, hold stays authorized")
		return nil, fmt.Errorf("capture failed: %w", err)
	}

	return e.finalizeCapture(ctx, booking, auth, token, captureID)
}

func (e *SettlementEngine) finalizeCapture(ctx context.Context, booking *Booking, auth *Authorization, token, captureID string) (*Resolution, error) {
	var earning *earnings.Earning
	err := e.repo.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := e.repo.TransitionAuthorization(txCtx, auth.ID, Transition{
			From:              StateAuthorized,
			To:                StateCaptured,
			LeaseToken:        token,
			ProviderCaptureID: captureID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: settlement lease lost", ErrSettlementInProgress)
		}
		if err := e.bookings.SetPaymentStatus(txCtx, booking.ID, PaymentCaptured); err != nil {
			return fmt.Errorf("failed to set payment status: %w", err)
		}
		earning, err = e.ledger.RecordCapture(txCtx, earnings.CaptureInput{
			BookingID:       booking.ID,
			AuthorizationID: auth.ID,
			DriverID:        booking.DriverID,
			Gross:           auth.Amount,
			Currency:        auth.Currency,
			FeeRate:         e.feeRate,
		})
		return err
	})
	e.invalidate(ctx, auth.ID)
	if err != nil {
		// Funds are captured at the provider but not recorded. A retry
		// reuses the capture idempotency key and lands here again.
		paymentsLogger.Error().
			Str("event", "capture_unrecorded").
			Bool("alert", true).
			Str("booking_id", booking.ID).
			Str("authorization_id", auth.ID).
			Str("provider_capture_id", captureID).
			Err(err).
			Msg("Capture succeeded at provider but could not be recorded")
		return nil, fmt.Errorf("failed to record capture: %w", err)
	}

	paymentsLogger.Info().
		Str("event", "hold_captured").
		Str("booking_id", booking.ID).
		Str("authorization_id", auth.ID).
		Str("provider_capture_id", captureID).
		Str("amount", auth.Amount.String()).
		Str("earning_id", earning.ID).
		Msg("Hold captured")

	if err := e.notifier.NotifyPaymentCaptured(ctx, booking.PassengerID, booking.ID, auth.Amount, auth.Currency); err != nil {
		paymentsLogger.Warn().Str("event", "notify_failed").Str("booking_id", booking.ID).Err(err).Msg("Failed to notify capture")
	}
	e.publish(ctx, auth, StateCaptured, PaymentCaptured)

	return &Resolution{
		BookingID:       booking.ID,
		AuthorizationID: auth.ID,
		State:           StateCaptured,
		PaymentStatus:   PaymentCaptured,
	}, nil
}

func (e *SettlementEngine) void(ctx context.Context, provider Provider, booking *Booking, auth *Authorization, token string, decision Decision) (*Resolution, error) {
	callCtx := WithIdempotencyKey(ctx, "void-"+auth.ID)
	err := provider.Void(callCtx, auth.ProviderAuthorizationID)
	if errors.Is(err, ErrInvalidState) {
		_, err = e.recoverOutcome(ctx, provider, auth, StateVoided, err)
	}
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			// The provider holds the funds in another state; never record a
			// void over it.
			if rErr := e.repo.ReleaseLease(ctx, auth.ID, token, err.Error()); rErr != nil {
				paymentsLogger.Error().Str("authorization_id", auth.ID).Err(rErr).Msg("Failed to release lease")
			}
			paymentsLogger.Error().
				Str("event", "void_rejected").
				Bool("alert", true).
				Str("booking_id", booking.ID).
				Str("authorization_id", auth.ID).
				Err(err).
				Msg("Provider rejected void, manual review required")
			return nil, fmt.Errorf("void failed: %w", err)
		}

		attempts, escalated, rErr := e.repo.RecordVoidFailure(ctx, auth.ID, token, err.Error(), e.maxVoidAttempts)
		if rErr != nil {
			paymentsLogger.Error().Str("authorization_id", auth.ID).Err(rErr).Msg("Failed to record void failure")
		}
		logEvent := paymentsLogger.Warn()
		if escalated {
			logEvent = paymentsLogger.Error().Bool("alert", true)
		}
		logEvent.
			Str("event", "void_failed").
			Str("booking_id", booking.ID).
			Str("authorization_id", auth.ID).
			Int("attempts", attempts).
			Bool("escalated", escalated).
			Err(err).
			Msg("Void failed, sweep will retry")
		return nil, fmt.Errorf("void failed: %w", err)
	}

	return e.finalizeVoid(ctx, booking, auth, token, decision)
}

func (e *SettlementEngine) finalizeVoid(ctx context.Context, booking *Booking, auth *Authorization, token string, decision Decision) (*Resolution, error) {
	status := PaymentVoided
	if decision == DecisionExpire {
		status = PaymentExpired
	}

	err := e.repo.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := e.repo.TransitionAuthorization(txCtx, auth.ID, Transition{
			From:       StateAuthorized,
			To:         StateVoided,
			LeaseToken: token,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: settlement lease lost", ErrSettlementInProgress)
		}
		return e.bookings.SetPaymentStatus(txCtx, booking.ID, status)
	})
	e.invalidate(ctx, auth.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record void: %w", err)
	}

	paymentsLogger.Info().
		Str("event", "hold_voided").
		Str("booking_id", booking.ID).
		Str("authorization_id", auth.ID).
		Str("decision", string(decision)).
		Str("payment_status", string(status)).
		Msg("Hold released")

	if err := e.notifier.NotifyPaymentReleased(ctx, booking.PassengerID, booking.ID); err != nil {
		paymentsLogger.Warn().Str("event", "notify_failed").Str("booking_id", booking.ID).Err(err).Msg("Failed to notify release")
	}
	e.publish(ctx, auth, StateVoided, status)

	return &Resolution{
		BookingID:       booking.ID,
		AuthorizationID: auth.ID,
		State:           StateVoided,
		PaymentStatus:   status,
	}, nil
}

// recoverOutcome asks the provider whether an earlier call already reached
// want. It returns the capture id when want is captured.
func (e *SettlementEngine) recoverOutcome(ctx context.Context, provider Provider, auth *Authorization, want State, cause error) (string, error) {
	status, err := provider.FetchStatus(ctx, auth.ProviderAuthorizationID)
	if err != nil {
		return "", cause
	}
	if want == StateCaptured && status.State == StateVoided {
		return "", fmt.Errorf("%w: %w", errReleasedAtProvider, cause)
	}
	if status.State != want {
		return "", fmt.Errorf("%w: provider reports %s", cause, status.State)
	}
	paymentsLogger.Info().
		Str("event", "provider_outcome_recovered").
		Str("authorization_id", auth.ID).
		Str("state", string(want)).
		Msg("Provider already applied the operation")
	return status.CaptureID, nil
}

// awaitWinner waits for the resolver holding the lease to reach a terminal
// state, polling at most leaseWait/leasePoll times.
func (e *SettlementEngine) awaitWinner(ctx context.Context, booking *Booking, authID string) (*Resolution, error) {
	polls := int(e.leaseWait / e.leasePoll)
	for i := 0; ; i++ {
		current, err := e.repo.GetAuthorization(ctx, authID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload authorization: %w", err)
		}
		if current != nil && current.State.IsTerminal() {
			fresh, err := e.bookings.GetBooking(ctx, booking.ID)
			if err == nil && fresh != nil {
				booking = fresh
			}
			return noopResolution(booking, current), nil
		}
		if i >= polls {
			return nil, ErrSettlementInProgress
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.leasePoll):
		}
	}
}

// Refund returns part or all of a captured amount to the payer. Amount zero
// refunds whatever has not been refunded yet.
func (e *SettlementEngine) Refund(ctx context.Context, authorizationID string, amount money.Amount) (*RefundResult, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: refund amount must not be negative", ErrValidation)
	}
	auth, err := e.repo.GetAuthorization(ctx, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}
	if auth == nil {
		return nil, ErrAuthorizationNotFound
	}
	if auth.State != StateCaptured {
		return nil, fmt.Errorf("%w: refund requires a captured hold, got %s", ErrInvalidState, auth.State)
	}
	remaining := auth.Amount - auth.RefundedAmount
	if amount == 0 {
		amount = remaining
	}
	if amount == 0 || amount > remaining {
		return nil, ErrAmountExceedsAuthorization
	}
	provider, err := e.providers.Get(auth.Rail)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	token := uuid.New().String()
	ok, err := e.repo.AcquireLease(ctx, auth.ID, StateCaptured, token, now, now.Add(e.leaseTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire refund lease: %w", err)
	}
	if !ok {
		return nil, ErrSettlementInProgress
	}
	defer func() {
		if err := e.repo.ReleaseLease(ctx, auth.ID, token, ""); err != nil {
			paymentsLogger.Error().Str("authorization_id", auth.ID).Err(err).Msg("Failed to release lease")
		}
	}()

	key := "refund-" + auth.ID + "-" + strconv.FormatInt(auth.RefundedAmount.Minor(), 10)
	refundAmount := amount
	if amount == auth.Amount {
		refundAmount = 0
	}
	refundID, err := provider.Refund(WithIdempotencyKey(ctx, key), auth.ProviderCaptureID, refundAmount)
	if err != nil {
		paymentsLogger.Warn().
			Str("event", "refund_failed").
			Str("authorization_id", auth.ID).
			Str("amount", amount.String()).
			Err(err).
			Msg("Refund failed")
		return nil, fmt.Errorf("refund failed: %w", err)
	}
	if _, err := e.repo.RecordRefund(ctx, auth.ID, refundID, amount); err != nil {
		paymentsLogger.Error().
			Str("event", "refund_unrecorded").
			Bool("alert", true).
			Str("authorization_id", auth.ID).
			Str("refund_id", refundID).
			Err(err).
			Msg("Refund succeeded at provider but could not be recorded")
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}
	e.invalidate(ctx, auth.ID)

	paymentsLogger.Info().
		Str("event", "hold_refunded").
		Str("authorization_id", auth.ID).
		Str("refund_id", refundID).
		Str("amount", amount.String()).
		Msg("Refund issued")

	return &RefundResult{
		AuthorizationID: auth.ID,
		RefundID:        refundID,
		Amount:          amount,
		RefundedAmount:  auth.RefundedAmount + amount,
	}, nil
}

func (e *SettlementEngine) publish(ctx context.Context, auth *Authorization, state State, status PaymentStatus) {
	ev := SettlementEvent{
		BookingID:       auth.BookingID,
		AuthorizationID: auth.ID,
		Rail:            auth.Rail,
		State:           state,
		PaymentStatus:   status,
		Amount:          auth.Amount,
		Currency:        auth.Currency,
		OccurredAt:      e.clock.Now(),
	}
	if err := e.publisher.PublishSettlement(ctx, ev); err != nil {
		paymentsLogger.Warn().Str("event", "publish_failed").Str("booking_id", auth.BookingID).Err(err).Msg("Failed to publish settlement event")
	}
}

func (e *SettlementEngine) invalidate(ctx context.Context, id string) {
	if e.cache != nil {
		_ = e.cache.Invalidate(ctx, id)
	}
}

func responseDeadline(b *Booking, a *Authorization) *time.Time {
	if a.ResponseDeadline != nil {
		return a.ResponseDeadline
	}
	if b.ResponseDeadline != nil {
		return b.ResponseDeadline
	}
	return a.ExpiresAt
}

func noopResolution(b *Booking, a *Authorization) *Resolution {
	return &Resolution{
		BookingID:       b.ID,
		AuthorizationID: a.ID,
		State:           a.State,
		PaymentStatus:   b.PaymentStatus,
		Noop:            true,
	}
}
