package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/testutil"
)

func newAuth(id, bookingID string, state payments.State) *payments.Authorization {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &payments.Authorization{
		ID:              id,
		BookingID:       bookingID,
		Rail:            payments.RailCard,
		ProviderOrderID: "pi_" + id,
		Amount:          5000,
		Currency:        "CAD",
		State:           state,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestAuthorizationRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	db := NewDBFromPool(pool)
	repo := NewAuthorizationRepository(db)
	bookings := NewBookingRepository(db)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("at most one active hold per booking", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		testutil.InsertBooking(t, ctx, pool, payments.Booking{ID: "b1", RideID: "r1", PassengerID: "p1", Amount: 5000, Currency: "CAD"})

		if err := repo.CreateAuthorization(ctx, newAuth("a1", "b1", payments.StateCreated)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		err := repo.CreateAuthorization(ctx, newAuth("a2", "b1", payments.StateCreated))
		if !errors.Is(err, payments.ErrDuplicateHold) {
			t.Fatalf("expected ErrDuplicateHold, got %v", err)
		}
		if err := repo.CreateAuthorization(ctx, newAuth("a3", "b1", payments.StateFailed)); err != nil {
			t.Fatalf("expected failed audit row to be allowed, got %v", err)
		}

		active, err := repo.GetActiveAuthorization(ctx, "b1")
		if err != nil || active == nil || active.ID != "a1" {
			t.Fatalf("expected a1 active, got %+v, %v", active, err)
		}
	})

	t.Run("transition is a compare-and-swap", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		testutil.InsertBooking(t, ctx, pool, payments.Booking{ID: "b1", RideID: "r1", PassengerID: "p1", Amount: 5000, Currency: "CAD"})
		if err := repo.CreateAuthorization(ctx, newAuth("a1", "b1", payments.StateCreated)); err != nil {
			t.Fatalf("create: %v", err)
		}

		deadline := time.Now().Add(12 * time.Hour).UTC().Truncate(time.Microsecond)
		ok, err := repo.TransitionAuthorization(ctx, "a1", payments.Transition{
			From:                    payments.StateCreated,
			To:                      payments.StateAuthorized,
			ProviderAuthorizationID: "pi_a1",
			ResponseDeadline:        &deadline,
		})
		if err != nil || !ok {
			t.Fatalf("expected transition, got %v, %v", ok, err)
		}
		ok, _ = repo.TransitionAuthorization(ctx, "a1", payments.Transition{From: payments.StateCreated, To: payments.StateFailed})
		if ok {
			t.Fatal("expected stale transition to be rejected")
		}

		got, _ := repo.GetAuthorization(ctx, "a1")
		if got.State != payments.StateAuthorized || got.ResponseDeadline == nil || !got.ResponseDeadline.Equal(deadline) {
			t.Fatalf("unexpected row: %+v", got)
		}
	})

	t.Run("lease excludes a second resolver", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		testutil.InsertBooking(t, ctx, pool, payments.Booking{ID: "b1", RideID: "r1", PassengerID: "p1", Amount: 5000, Currency: "CAD"})
		if err := repo.CreateAuthorization(ctx, newAuth("a1", "b1", payments.StateAuthorized)); err != nil {
			t.Fatalf("create: %v", err)
		}

		now := time.Now()
		ok, err := repo.AcquireLease(ctx, "a1", payments.StateAuthorized, "t1", now, now.Add(time.Minute))
		if err != nil || !ok {
			t.Fatalf("expected lease, got %v, %v", ok, err)
		}
		ok, _ = repo.AcquireLease(ctx, "a1", payments.StateAuthorized, "t2", now, now.Add(time.Minute))
		if ok {
			t.Fatal("expected second lease to fail")
		}
		ok, _ = repo.TransitionAuthorization(ctx, "a1", payments.Transition{From: payments.StateAuthorized, To: payments.StateVoided, LeaseToken: "t2"})
		if ok {
			t.Fatal("expected transition with foreign lease to fail")
		}

		attempts, escalated, err := repo.RecordVoidFailure(ctx, "a1", "t1", "timeout", 1)
		if err != nil || attempts != 1 || !escalated {
			t.Fatalf("expected escalation after 1 attempt, got %d %v %v", attempts, escalated, err)
		}
		ok, _ = repo.AcquireLease(ctx, "a1", payments.StateAuthorized, "t2", now, now.Add(time.Minute))
		if !ok {
			t.Fatal("expected lease to be free after void failure")
		}
		ok, _ = repo.TransitionAuthorization(ctx, "a1", payments.Transition{From: payments.StateAuthorized, To: payments.StateVoided, LeaseToken: "t2"})
		if !ok {
			t.Fatal("expected transition with own lease")
		}
	})

	t.Run("expired listing is inclusive and keeps decided bookings", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		now := time.Now().UTC().Truncate(time.Microsecond)
		for _, id := range []string{"due", "decided", "later"} {
			testutil.InsertBooking(t, ctx, pool, payments.Booking{ID: id, RideID: "r", PassengerID: "p", Amount: 5000, Currency: "CAD"})
			if err := repo.CreateAuthorization(ctx, newAuth("a-"+id, id, payments.StateCreated)); err != nil {
				t.Fatalf("create: %v", err)
			}
			deadline := now
			if id == "later" {
				deadline = now.Add(time.Second)
			}
			if _, err := repo.TransitionAuthorization(ctx, "a-"+id, payments.Transition{From: payments.StateCreated, To: payments.StateAuthorized, ResponseDeadline: &deadline}); err != nil {
				t.Fatalf("transition: %v", err)
			}
		}
		testutil.SetDriverDecision(t, ctx, pool, "decided", payments.DriverDecisionAccepted)

		list, err := repo.ListExpired(ctx, now, 10)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected the due and decided bookings, got %+v", list)
		}
		for _, a := range list {
			if a.BookingID == "later" {
				t.Fatalf("expected later booking to be skipped, got %+v", list)
			}
		}
	})

	t.Run("capture attempt keeps the first stamp", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		testutil.InsertBooking(t, ctx, pool, payments.Booking{ID: "b1", RideID: "r1", PassengerID: "p1", Amount: 5000, Currency: "CAD"})
		if err := repo.CreateAuthorization(ctx, newAuth("a1", "b1", payments.StateAuthorized)); err != nil {
			t.Fatalf("create: %v", err)
		}
		first := time.Now().UTC().Truncate(time.Microsecond)
		if ok, _ := repo.AcquireLease(ctx, "a1", payments.StateAuthorized, "t1", first, first.Add(time.Minute)); !ok {
			t.Fatal("expected lease")
		}
		if err := repo.MarkCaptureAttempt(ctx, "a1", "other", first); err != nil {
			t.Fatalf("mark with foreign lease: %v", err)
		}
		if got, _ := repo.GetAuthorization(ctx, "a1"); got.CaptureAttemptedAt != nil {
			t.Fatalf("expected no stamp without the lease, got %v", got.CaptureAttemptedAt)
		}
		if err := repo.MarkCaptureAttempt(ctx, "a1", "t1", first); err != nil {
			t.Fatalf("mark: %v", err)
		}
		if err := repo.MarkCaptureAttempt(ctx, "a1", "t1", first.Add(time.Hour)); err != nil {
			t.Fatalf("mark again: %v", err)
		}
		got, _ := repo.GetAuthorization(ctx, "a1")
		if got.CaptureAttemptedAt == nil || !got.CaptureAttemptedAt.Equal(first) {
			t.Fatalf("expected first stamp %v, got %v", first, got.CaptureAttemptedAt)
		}
	})

	t.Run("refunds are recorded once and bounded", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		testutil.InsertBooking(t, ctx, pool, payments.Booking{ID: "b1", RideID: "r1", PassengerID: "p1", Amount: 5000, Currency: "CAD"})
		if err := repo.CreateAuthorization(ctx, newAuth("a1", "b1", payments.StateCaptured)); err != nil {
			t.Fatalf("create: %v", err)
		}

		created, err := repo.RecordRefund(ctx, "a1", "re_1", 3000)
		if err != nil || !created {
			t.Fatalf("expected refund recorded, got %v, %v", created, err)
		}
		created, _ = repo.RecordRefund(ctx, "a1", "re_1", 3000)
		if created {
			t.Fatal("expected duplicate refund id to be ignored")
		}
		if _, err := repo.RecordRefund(ctx, "a1", "re_2", 2500); !errors.Is(err, payments.ErrAmountExceedsAuthorization) {
			t.Fatalf("expected ErrAmountExceedsAuthorization, got %v", err)
		}
		got, _ := repo.GetAuthorization(ctx, "a1")
		if got.RefundedAmount != 3000 {
			t.Fatalf("expected refunded 3000, got %d", got.RefundedAmount)
		}
	})

	t.Run("webhook events are recorded once", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		ev := &payments.WebhookEvent{Rail: payments.RailWallet, EventID: "WH-1", EventType: "PAYMENT.CAPTURE.COMPLETED", Payload: []byte(`{}`)}

		created, err := repo.RecordWebhookEvent(ctx, ev)
		if err != nil || !created {
			t.Fatalf("expected first record, got %v, %v", created, err)
		}
		created, _ = repo.RecordWebhookEvent(ctx, ev)
		if created {
			t.Fatal("expected duplicate to be ignored")
		}
		if err := repo.MarkWebhookProcessed(ctx, payments.RailWallet, "WH-1", ""); err != nil {
			t.Fatalf("mark processed: %v", err)
		}
	})

	t.Run("booking writes roll back with the transaction", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		testutil.InsertBooking(t, ctx, pool, payments.Booking{ID: "b1", RideID: "r1", PassengerID: "p1", Amount: 5000, Currency: "CAD"})

		boom := errors.New("boom")
		err := db.WithTx(ctx, func(txCtx context.Context) error {
			if err := bookings.SetPaymentStatus(txCtx, "b1", payments.PaymentCaptured); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		b, _ := bookings.GetBooking(ctx, "b1")
		if b.PaymentStatus != payments.PaymentNone {
			t.Fatalf("expected rollback, got %s", b.PaymentStatus)
		}
		if err := bookings.SetPaymentStatus(ctx, "missing", payments.PaymentCaptured); !errors.Is(err, payments.ErrBookingNotFound) {
			t.Fatalf("expected ErrBookingNotFound, got %v", err)
		}
	})
}
