package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
	"github.com/jackc/pgx/v5"
)

// AuthorizationRepository implements payments.Repository using PostgreSQL
type AuthorizationRepository struct {
	db *DB
}

// NewAuthorizationRepository creates a new authorization repository
func NewAuthorizationRepository(db *DB) *AuthorizationRepository {
	return &AuthorizationRepository{db: db}
}

const authorizationColumns = `
	pa.id, pa.booking_id, pa.provider, pa.provider_order_id,
	pa.provider_authorization_id, pa.provider_capture_id,
	pa.amount, pa.currency, pa.state, pa.expires_at, pa.response_deadline,
	pa.capture_attempted_at, pa.refunded_amount, pa.void_attempts, pa.escalated, pa.last_error,
	pa.created_at, pa.updated_at`

func scanAuthorization(row pgx.Row) (*payments.Authorization, error) {
	var a payments.Authorization
	err := row.Scan(
		&a.ID, &a.BookingID, &a.Rail, &a.ProviderOrderID,
		&a.ProviderAuthorizationID, &a.ProviderCaptureID,
		&a.Amount, &a.Currency, &a.State, &a.ExpiresAt, &a.ResponseDeadline,
		&a.CaptureAttemptedAt, &a.RefundedAmount, &a.VoidAttempts, &a.Escalated, &a.LastError,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AuthorizationRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithTx(ctx, fn)
}

// CreateAuthorization inserts a hold attempt. The partial unique index turns
// a second active hold for the booking into ErrDuplicateHold.
func (r *AuthorizationRepository) CreateAuthorization(ctx context.Context, a *payments.Authorization) error {
	query := `
		INSERT INTO payment_authorizations (
			id, booking_id, provider, provider_order_id, amount, currency,
			state, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.exec(ctx, query,
		a.ID,
		a.BookingID,
		string(a.Rail),
		a.ProviderOrderID,
		a.Amount.Minor(),
		string(a.Currency),
		string(a.State),
		a.LastError,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payments.ErrDuplicateHold
		}
		return fmt.Errorf("failed to insert authorization: %w", err)
	}
	return nil
}

func (r *AuthorizationRepository) getOne(ctx context.Context, where string, args ...any) (*payments.Authorization, error) {
	query := `SELECT ` + authorizationColumns + ` FROM payment_authorizations pa ` + where
	a, err := scanAuthorization(r.db.queryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}
	return a, nil
}

func (r *AuthorizationRepository) GetAuthorization(ctx context.Context, id string) (*payments.Authorization, error) {
	return r.getOne(ctx, `WHERE pa.id = $1`, id)
}

func (r *AuthorizationRepository) GetActiveAuthorization(ctx context.Context, bookingID string) (*payments.Authorization, error) {
	return r.getOne(ctx, `WHERE pa.booking_id = $1 AND pa.state IN ('created', 'authorized')`, bookingID)
}

func (r *AuthorizationRepository) GetLatestAuthorization(ctx context.Context, bookingID string) (*payments.Authorization, error) {
	return r.getOne(ctx, `WHERE pa.booking_id = $1 ORDER BY pa.created_at DESC, pa.id DESC LIMIT 1`, bookingID)
}

func (r *AuthorizationRepository) FindByProviderRef(ctx context.Context, rail payments.Rail, ref string) (*payments.Authorization, error) {
	if ref == "" {
		return nil, nil
	}
	return r.getOne(ctx, `
		WHERE pa.provider = $1
		  AND (pa.provider_order_id = $2 OR pa.provider_authorization_id = $2 OR pa.provider_capture_id = $2)
		ORDER BY pa.created_at DESC
		LIMIT 1`, string(rail), ref)
}

// TransitionAuthorization is a compare-and-swap on state and lease. Without a
// lease token it only applies while no unexpired lease is held.
func (r *AuthorizationRepository) TransitionAuthorization(ctx context.Context, id string, t payments.Transition) (bool, error) {
	query := `
		UPDATE payment_authorizations SET
			state = $3,
			provider_authorization_id = COALESCE(NULLIF($4::text, ''), provider_authorization_id),
			provider_capture_id = COALESCE(NULLIF($5::text, ''), provider_capture_id),
			expires_at = COALESCE($6, expires_at),
			response_deadline = COALESCE($7, response_deadline),
			last_error = COALESCE(NULLIF($8::text, ''), last_error),
			lease_token = CASE WHEN $9 THEN NULL ELSE lease_token END,
			lease_until = CASE WHEN $9 THEN NULL ELSE lease_until END,
			updated_at = NOW()
		WHERE id = $1
		  AND state = $2
		  AND (
			($10::text <> '' AND lease_token = $10::text)
			OR ($10::text = '' AND (lease_token IS NULL OR lease_until <= NOW()))
		  )
	`
	tag, err := r.db.exec(ctx, query,
		id,
		string(t.From),
		string(t.To),
		t.ProviderAuthorizationID,
		t.ProviderCaptureID,
		t.ExpiresAt,
		t.ResponseDeadline,
		t.LastError,
		t.To.IsTerminal(),
		t.LeaseToken,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition authorization: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AuthorizationRepository) AcquireLease(ctx context.Context, id string, state payments.State, token string, now, until time.Time) (bool, error) {
	query := `
		UPDATE payment_authorizations
		SET lease_token = $3, lease_until = $5, updated_at = NOW()
		WHERE id = $1 AND state = $2
		  AND (lease_token IS NULL OR lease_until <= $4)
	`
	tag, err := r.db.exec(ctx, query, id, string(state), token, now, until)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AuthorizationRepository) ReleaseLease(ctx context.Context, id, token, lastError string) error {
	query := `
		UPDATE payment_authorizations
		SET lease_token = NULL, lease_until = NULL,
			last_error = COALESCE(NULLIF($3::text, ''), last_error),
			updated_at = NOW()
		WHERE id = $1 AND lease_token = $2
	`
	if _, err := r.db.exec(ctx, query, id, token, lastError); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (r *AuthorizationRepository) MarkCaptureAttempt(ctx context.Context, id, token string, at time.Time) error {
	query := `
		UPDATE payment_authorizations
		SET capture_attempted_at = COALESCE(capture_attempted_at, $3), updated_at = NOW()
		WHERE id = $1 AND lease_token = $2
	`
	if _, err := r.db.exec(ctx, query, id, token, at); err != nil {
		return fmt.Errorf("failed to mark capture attempt: %w", err)
	}
	return nil
}

func (r *AuthorizationRepository) RecordVoidFailure(ctx context.Context, id, token, lastError string, escalateAt int) (int, bool, error) {
	query := `
		UPDATE payment_authorizations
		SET void_attempts = void_attempts + 1,
			escalated = escalated OR ($4 > 0 AND void_attempts + 1 >= $4),
			last_error = $3,
			lease_token = NULL,
			lease_until = NULL,
			updated_at = NOW()
		WHERE id = $1 AND lease_token = $2
		RETURNING void_attempts, escalated
	`
	var attempts int
	var escalated bool
	err := r.db.queryRow(ctx, query, id, token, lastError, escalateAt).Scan(&attempts, &escalated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to record void failure: %w", err)
	}
	return attempts, escalated, nil
}

func (r *AuthorizationRepository) RecordRefund(ctx context.Context, id, refundID string, amount money.Amount) (bool, error) {
	var created bool
	err := r.db.WithTx(ctx, func(txCtx context.Context) error {
		tag, err := r.db.exec(txCtx, `
			INSERT INTO payment_refunds (provider, refund_id, authorization_id, amount)
			SELECT provider, $2, id, $3 FROM payment_authorizations WHERE id = $1
			ON CONFLICT (provider, refund_id) DO NOTHING
		`, id, refundID, amount.Minor())
		if err != nil {
			return fmt.Errorf("failed to insert refund: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		tag, err = r.db.exec(txCtx, `
			UPDATE payment_authorizations
			SET refunded_amount = refunded_amount + $2, updated_at = NOW()
			WHERE id = $1 AND refunded_amount + $2 <= amount
		`, id, amount.Minor())
		if err != nil {
			return fmt.Errorf("failed to update refunded amount: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return payments.ErrAmountExceedsAuthorization
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *AuthorizationRepository) list(ctx context.Context, query string, args ...any) ([]*payments.Authorization, error) {
	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorizations: %w", err)
	}
	defer rows.Close()

	var out []*payments.Authorization
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan authorization: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating authorizations: %w", err)
	}
	return out, nil
}

// ListExpired returns authorized holds past their deadline. The boundary is
// inclusive: a deadline equal to now is due. Decided bookings are included so
// failed voids and interrupted captures are retried.
func (r *AuthorizationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*payments.Authorization, error) {
	query := `
		SELECT ` + authorizationColumns + `
		FROM payment_authorizations pa
		JOIN bookings b ON b.id = pa.booking_id
		WHERE pa.state = 'authorized'
		  AND COALESCE(pa.response_deadline, b.response_deadline) <= $1
		ORDER BY COALESCE(pa.response_deadline, b.response_deadline)
		LIMIT $2
	`
	return r.list(ctx, query, now, limit)
}

func (r *AuthorizationRepository) ListAbandoned(ctx context.Context, createdBefore time.Time, limit int) ([]*payments.Authorization, error) {
	query := `
		SELECT ` + authorizationColumns + `
		FROM payment_authorizations pa
		WHERE pa.state = 'created' AND pa.created_at <= $1
		ORDER BY pa.created_at
		LIMIT $2
	`
	return r.list(ctx, query, createdBefore, limit)
}

func (r *AuthorizationRepository) RecordWebhookEvent(ctx context.Context, ev *payments.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events (provider, event_id, event_type, provider_ref, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	tag, err := r.db.exec(ctx, query,
		string(ev.Rail),
		ev.EventID,
		ev.EventType,
		ev.ProviderRef,
		string(ev.Payload),
		receivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AuthorizationRepository) MarkWebhookProcessed(ctx context.Context, rail payments.Rail, eventID, processErr string) error {
	query := `
		UPDATE webhook_events
		SET processed_at = NOW(), process_error = $3
		WHERE provider = $1 AND event_id = $2
	`
	if _, err := r.db.exec(ctx, query, string(rail), eventID, processErr); err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}
	return nil
}

// DeleteProcessedWebhooks removes up to limit deliveries processed before the
// cutoff and returns what was removed. Unprocessed rows are never deleted.
func (r *AuthorizationRepository) DeleteProcessedWebhooks(ctx context.Context, processedBefore time.Time, limit int) ([]*payments.WebhookEvent, error) {
	query := `
		DELETE FROM webhook_events
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE processed_at IS NOT NULL AND processed_at < $1
			ORDER BY processed_at
			LIMIT $2
		)
		RETURNING provider, event_id, event_type, provider_ref, received_at
	`
	rows, err := r.db.query(ctx, query, processedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to delete webhook events: %w", err)
	}
	defer rows.Close()

	var out []*payments.WebhookEvent
	for rows.Next() {
		var (
			ev   payments.WebhookEvent
			rail string
		)
		if err := rows.Scan(&rail, &ev.EventID, &ev.EventType, &ev.ProviderRef, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		ev.Rail = payments.Rail(rail)
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}
	return out, nil
}
