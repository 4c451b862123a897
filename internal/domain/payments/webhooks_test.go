package payments_test

import (
	"context"
	"errors"
	"testing"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
)

func TestReconciler_DuplicateDeliveryIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.addBooking("1", 5000)
	hold := f.authorize(t, "1", 5000, payments.RailWallet)
	a := f.authorization(t, hold.AuthorizationID)
	r := payments.NewReconciler(f.store, f.store, f.holds, f.engine)

	ev := &payments.WebhookEvent{
		Rail:            payments.RailWallet,
		EventID:         "WH-1",
		EventType:       "PAYMENT.CAPTURE.COMPLETED",
		Kind:            payments.WebhookCaptured,
		AuthorizationID: a.ProviderAuthorizationID,
		CaptureID:       "CAP-1",
		Amount:          5000,
	}

	created, err := r.HandleEvent(context.Background(), ev)
	if err != nil || !created {
		t.Fatalf("Expected first delivery recorded, got %v, %v", created, err)
	}
	created, err = r.HandleEvent(context.Background(), ev)
	if err != nil || created {
		t.Errorf("Expected duplicate delivery ignored, got %v, %v", created, err)
	}

	got := f.authorization(t, hold.AuthorizationID)
	if got.State != payments.StateCaptured || got.ProviderCaptureID != "CAP-1" {
		t.Errorf("Expected captured with CAP-1, got %s %s", got.State, got.ProviderCaptureID)
	}
	if n := len(f.earningsFor(t, "driver-1")); n != 1 {
		t.Errorf("Expected 1 earning, got %d", n)
	}
	if n := f.wallet.count("capture"); n != 0 {
		t.Errorf("Expected no provider capture from webhook, got %d", n)
	}
}

func TestReconciler_CaptureAfterLocalCaptureIsNoop(t *testing.T) {
	f := newFixture(t)
	f.addBooking("1", 5000)
	hold := f.authorize(t, "1", 5000, payments.RailCard)
	if _, err := f.engine.Resolve(context.Background(), "1", payments.DecisionAccept); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	a := f.authorization(t, hold.AuthorizationID)
	r := payments.NewReconciler(f.store, f.store, f.holds, f.engine)

	_, err := r.HandleEvent(context.Background(), &payments.WebhookEvent{
		Rail:        payments.RailCard,
		EventID:     "evt_1",
		Kind:        payments.WebhookCaptured,
		ProviderRef: a.ProviderOrderID,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if msg, ok := f.store.WebhookProcessError(payments.RailCard, "evt_1"); !ok || msg != "" {
		t.Errorf("Expected processed without error, got %q %v", msg, ok)
	}
	if n := len(f.earningsFor(t, "driver-1")); n != 1 {
		t.Errorf("Expected 1 earning, got %d", n)
	}
}

func TestReconciler_AuthorizedEventConfirmsApproval(t *testing.T) {
	f := newFixture(t)
	f.addBooking("1", 5000)
	hold, err := f.holds.OpenHold(context.Background(), payments.OpenHoldRequest{BookingID: "1", Amount: 5000, Currency: "CAD", Rail: payments.RailCard})
	if err != nil {
		t.Fatalf("OpenHold() error = %v", err)
	}
	r := payments.NewReconciler(f.store, f.store, f.holds, f.engine)

	_, err = r.HandleEvent(context.Background(), &payments.WebhookEvent{
		Rail:        payments.RailCard,
		EventID:     "evt_auth",
		Kind:        payments.WebhookAuthorized,
		ProviderRef: hold.ProviderOrderID,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if b := f.booking(t, "1"); b.PaymentStatus != payments.PaymentAuthorized {
		t.Errorf("Expected booking authorized, got %s", b.PaymentStatus)
	}
}

func TestReconciler_RefundRecordedOncePerRefundID(t *testing.T) {
	f := newFixture(t)
	f.addBooking("1", 5000)
	hold := f.authorize(t, "1", 5000, payments.RailWallet)
	if _, err := f.engine.Resolve(context.Background(), "1", payments.DecisionAccept); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	a := f.authorization(t, hold.AuthorizationID)
	r := payments.NewReconciler(f.store, f.store, f.holds, f.engine)

	for _, id := range []string{"WH-A", "WH-B"} {
		_, err := r.HandleEvent(context.Background(), &payments.WebhookEvent{
			Rail:      payments.RailWallet,
			EventID:   id,
			Kind:      payments.WebhookRefunded,
			CaptureID: a.ProviderCaptureID,
			RefundID:  "REF-1",
			Amount:    money.Amount(1500),
		})
		if err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", id, err)
		}
	}
	if got := f.authorization(t, hold.AuthorizationID); got.RefundedAmount != 1500 {
		t.Errorf("Expected refunded 1500, got %d", got.RefundedAmount)
	}
}

func TestReconciler_UnknownReferenceIsRecorded(t *testing.T) {
	f := newFixture(t)
	r := payments.NewReconciler(f.store, f.store, f.holds, f.engine)

	created, err := r.HandleEvent(context.Background(), &payments.WebhookEvent{
		Rail:        payments.RailCard,
		EventID:     "evt_x",
		Kind:        payments.WebhookVoided,
		ProviderRef: "pi_unknown",
	})
	if err != nil || !created {
		t.Fatalf("Expected delivery recorded regardless of outcome, got %v, %v", created, err)
	}
	msg, ok := f.store.WebhookProcessError(payments.RailCard, "evt_x")
	if !ok || msg == "" {
		t.Errorf("Expected processing error stored, got %q", msg)
	}

	_, err = r.HandleEvent(context.Background(), &payments.WebhookEvent{Rail: payments.RailCard})
	if !errors.Is(err, payments.ErrValidation) {
		t.Errorf("Expected ErrValidation for missing event id, got %v", err)
	}
}

func TestReconciler_RefundWithoutIDCountsOnlyMissingAmount(t *testing.T) {
	f := newFixture(t)
	f.addBooking("1", 5000)
	hold := f.authorize(t, "1", 5000, payments.RailCard)
	if _, err := f.engine.Resolve(context.Background(), "1", payments.DecisionAccept); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := f.engine.Refund(context.Background(), hold.AuthorizationID, 1000); err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	a := f.authorization(t, hold.AuthorizationID)
	r := payments.NewReconciler(f.store, f.store, f.holds, f.engine)

	deliveries := []struct {
		eventID string
		total   money.Amount
		want    money.Amount
	}{
		{"evt_1", 1000, 1000},
		{"evt_2", 2500, 2500},
		{"evt_3", 2500, 2500},
	}
	for _, d := range deliveries {
		_, err := r.HandleEvent(context.Background(), &payments.WebhookEvent{
			Rail:          payments.RailCard,
			EventID:       d.eventID,
			Kind:          payments.WebhookRefunded,
			CaptureID:     a.ProviderCaptureID,
			RefundedTotal: d.total,
		})
		if err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", d.eventID, err)
		}
		if msg, _ := f.store.WebhookProcessError(payments.RailCard, d.eventID); msg != "" {
			t.Errorf("%s: expected clean processing, got %q", d.eventID, msg)
		}
		if got := f.authorization(t, hold.AuthorizationID); got.RefundedAmount != d.want {
			t.Errorf("%s: expected refunded %d, got %d", d.eventID, d.want, got.RefundedAmount)
		}
	}

	if _, err := f.engine.Refund(context.Background(), hold.AuthorizationID, 2500); err != nil {
		t.Errorf("Expected remaining 2500 to stay refundable, got %v", err)
	}
}
