package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/harman698/OnGoPool/internal/money"
)

// ApprovalConfirmer is the part of the hold coordinator webhooks drive.
type ApprovalConfirmer interface {
	ConfirmApproval(ctx context.Context, authorizationID, providerOrderID string) (*ApprovalResult, error)
}

type WebhookServiceInterface interface {
	HandleEvent(ctx context.Context, ev *WebhookEvent) (bool, error)
}

// Reconciler applies provider notifications to the ledger. Every delivery is
// recorded first; processing outcome never changes the acknowledgement.
type Reconciler struct {
	repo     Repository
	holds    ApprovalConfirmer
	engine   *SettlementEngine
	bookings Bookings
}

func NewReconciler(repo Repository, bookings Bookings, holds ApprovalConfirmer, engine *SettlementEngine) *Reconciler {
	return &Reconciler{repo: repo, bookings: bookings, holds: holds, engine: engine}
}

// HandleEvent records the delivery and processes it. It returns false for a
// duplicate delivery and an error only when the event could not be recorded.
func (r *Reconciler) HandleEvent(ctx context.Context, ev *WebhookEvent) (bool, error) {
	if ev.EventID == "" {
		return false, fmt.Errorf("%w: webhook event id is required", ErrValidation)
	}
	created, err := r.repo.RecordWebhookEvent(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !created {
		paymentsLogger.Info().
			Str("event", "webhook_duplicate").
			Str("provider", string(ev.Rail)).
			Str("event_id", ev.EventID).
			Msg("Duplicate webhook delivery ignored")
		return false, nil
	}

	procErr := r.process(ctx, ev)
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
		paymentsLogger.Warn().
			Str("event", "webhook_process_failed").
			Str("provider", string(ev.Rail)).
			Str("event_id", ev.EventID).
			Str("event_type", ev.EventType).
			Err(procErr).
			Msg("Webhook recorded but processing failed")
	}
	if err := r.repo.MarkWebhookProcessed(ctx, ev.Rail, ev.EventID, msg); err != nil {
		paymentsLogger.Error().Str("event_id", ev.EventID).Err(err).Msg("Failed to mark webhook processed")
	}
	return true, nil
}

func (r *Reconciler) process(ctx context.Context, ev *WebhookEvent) error {
	if ev.Kind == WebhookIgnored {
		return nil
	}
	auth, err := r.find(ctx, ev)
	if err != nil {
		return err
	}
	if auth == nil {
		return fmt.Errorf("%w: no authorization for %s", ErrAuthorizationNotFound, ev.ProviderRef)
	}

	switch ev.Kind {
	case WebhookAuthorized:
		if auth.State != StateCreated {
			return nil
		}
		_, err := r.holds.ConfirmApproval(ctx, auth.ID, auth.ProviderOrderID)
		return err
	case WebhookCaptured:
		return r.observe(ctx, auth, StateCaptured, ev.CaptureID)
	case WebhookVoided:
		return r.observe(ctx, auth, StateVoided, "")
	case WebhookRefunded:
		if auth.State != StateCaptured {
			return fmt.Errorf("%w: refund for %s hold", ErrInvalidState, auth.State)
		}
		if ev.RefundID == "" {
			return r.catchUpRefunds(ctx, auth, ev.RefundedTotal)
		}
		_, err := r.repo.RecordRefund(ctx, auth.ID, ev.RefundID, ev.Amount)
		return err
	}
	return nil
}

// catchUpRefunds records the part of the provider's cumulative refunded total
// not yet in the ledger. Keying by the total makes redeliveries with other
// event ids no-ops.
func (r *Reconciler) catchUpRefunds(ctx context.Context, auth *Authorization, total money.Amount) error {
	missing := total - auth.RefundedAmount
	if missing <= 0 {
		return nil
	}
	key := "total-" + strconv.FormatInt(total.Minor(), 10)
	created, err := r.repo.RecordRefund(ctx, auth.ID, key, missing)
	if err != nil {
		return err
	}
	if created {
		paymentsLogger.Warn().
			Str("event", "refund_caught_up").
			Str("authorization_id", auth.ID).
			Str("amount", missing.String()).
			Msg("Recorded refund seen only in provider totals")
	}
	return nil
}

func (r *Reconciler) find(ctx context.Context, ev *WebhookEvent) (*Authorization, error) {
	for _, ref := range []string{ev.AuthorizationID, ev.CaptureID, ev.ProviderRef} {
		if ref == "" {
			continue
		}
		auth, err := r.repo.FindByProviderRef(ctx, ev.Rail, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to find authorization: %w", err)
		}
		if auth != nil {
			return auth, nil
		}
	}
	return nil, nil
}

// observe applies a terminal outcome the provider reports on its own, for
// example after our recording transaction failed following a capture.
func (r *Reconciler) observe(ctx context.Context, auth *Authorization, want State, captureID string) error {
	if auth.State == want {
		return nil
	}
	if auth.State.IsTerminal() {
		paymentsLogger.Error().
			Str("event", "webhook_state_mismatch").
			Bool("alert", true).
			Str("authorization_id", auth.ID).
			Str("local_state", string(auth.State)).
			Str("provider_state", string(want)).
			Msg("Provider reports a different terminal state")
		return fmt.Errorf("%w: local %s, provider %s", ErrInvalidState, auth.State, want)
	}
	if auth.State != StateAuthorized {
		return nil
	}
	booking, err := r.bookings.GetBooking(ctx, auth.BookingID)
	if err != nil {
		return fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return ErrBookingNotFound
	}

	e := r.engine
	now := e.clock.Now()
	token := "webhook-" + auth.ID
	ok, err := e.repo.AcquireLease(ctx, auth.ID, StateAuthorized, token, now, now.Add(e.leaseTTL))
	if err != nil {
		return err
	}
	if !ok {
		return ErrSettlementInProgress
	}

	if want == StateCaptured {
		_, err = e.finalizeCapture(ctx, booking, auth, token, captureID)
		return err
	}
	decision := DecisionDecline
	if d := responseDeadline(booking, auth); d != nil && !now.Before(*d) {
		decision = DecisionExpire
	}
	_, err = e.finalizeVoid(ctx, booking, auth, token, decision)
	if errors.Is(err, ErrSettlementInProgress) {
		return nil
	}
	return err
}
