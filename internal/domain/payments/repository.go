package payments

import (
	"context"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/earnings"
	"github.com/harman698/OnGoPool/internal/money"
)

// Repository is the durable authorization ledger. Mutual exclusion lives
// here: the partial unique index on active holds and the compare-and-swap
// updates below, never in-process locks.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// CreateAuthorization returns ErrDuplicateHold when the booking already
	// has a created or authorized row.
	CreateAuthorization(ctx context.Context, a *Authorization) error

	GetAuthorization(ctx context.Context, id string) (*Authorization, error)

	// GetActiveAuthorization returns the booking's created/authorized row, or nil.
	GetActiveAuthorization(ctx context.Context, bookingID string) (*Authorization, error)

	// GetLatestAuthorization returns the booking's most recent row in any state.
	GetLatestAuthorization(ctx context.Context, bookingID string) (*Authorization, error)

	// FindByProviderRef matches the provider order, authorization or capture id.
	FindByProviderRef(ctx context.Context, rail Rail, ref string) (*Authorization, error)

	TransitionAuthorization(ctx context.Context, id string, t Transition) (bool, error)

	// AcquireLease claims the right to act on a row in the given state until
	// the lease expires. Only one caller can hold an unexpired lease.
	AcquireLease(ctx context.Context, id string, state State, token string, now, until time.Time) (bool, error)

	ReleaseLease(ctx context.Context, id, token, lastError string) error

	// MarkCaptureAttempt stamps capture_attempted_at under the caller's lease.
	// The first stamp is kept.
	MarkCaptureAttempt(ctx context.Context, id, token string, at time.Time) error

	// RecordVoidFailure increments void_attempts, stores the error, releases
	// the lease and flags the row escalated once attempts reach escalateAt.
	RecordVoidFailure(ctx context.Context, id, token, lastError string, escalateAt int) (attempts int, escalated bool, err error)

	// RecordRefund adds amount to refunded_amount once per provider refund id.
	// It reports false for a refund id already recorded and returns
	// ErrAmountExceedsAuthorization when the total would pass the amount.
	RecordRefund(ctx context.Context, id, refundID string, amount money.Amount) (bool, error)

	// ListExpired returns authorized rows whose response deadline is at or
	// before now, whatever the booking's driver decision.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Authorization, error)

	// ListAbandoned returns created rows older than createdBefore.
	ListAbandoned(ctx context.Context, createdBefore time.Time, limit int) ([]*Authorization, error)

	// RecordWebhookEvent stores the delivery and reports false for a duplicate.
	RecordWebhookEvent(ctx context.Context, ev *WebhookEvent) (bool, error)

	MarkWebhookProcessed(ctx context.Context, rail Rail, eventID, processErr string) error
}

// Bookings is the booking subsystem's surface consumed by the core.
type Bookings interface {
	GetBooking(ctx context.Context, id string) (*Booking, error)
	SetPaymentStatus(ctx context.Context, id string, status PaymentStatus) error
	SetResponseDeadline(ctx context.Context, id string, ts time.Time) error
	SetAuthorizationRef(ctx context.Context, id, authorizationID string) error
}

// Notifier is fire-and-forget: errors are logged by the caller and never
// block settlement.
type Notifier interface {
	NotifyPaymentReleased(ctx context.Context, userID, bookingID string) error
	NotifyPaymentCaptured(ctx context.Context, userID, bookingID string, amount money.Amount, currency money.Currency) error
}

// Publisher emits settlement events after commit.
type Publisher interface {
	PublishSettlement(ctx context.Context, ev SettlementEvent) error
}

// EarningsLedger is the part of the earnings service settlement depends on.
type EarningsLedger interface {
	RecordCapture(ctx context.Context, in earnings.CaptureInput) (*earnings.Earning, error)
}

// AuthorizationCache holds read-side copies of authorizations.
type AuthorizationCache interface {
	GetAuthorization(ctx context.Context, id string) (*Authorization, error)
	SetAuthorization(ctx context.Context, a *Authorization, ttl time.Duration) error
	Invalidate(ctx context.Context, id string) error
}

type nopNotifier struct{}

func (nopNotifier) NotifyPaymentReleased(context.Context, string, string) error { return nil }
func (nopNotifier) NotifyPaymentCaptured(context.Context, string, string, money.Amount, money.Currency) error {
	return nil
}

type nopPublisher struct{}

func (nopPublisher) PublishSettlement(context.Context, SettlementEvent) error { return nil }
