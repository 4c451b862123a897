package wallet_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/railsim"
	"github.com/harman698/OnGoPool/internal/rails/wallet"
)

var simStart = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newSim(t *testing.T) (*railsim.Server, *wallet.Client) {
	t.Helper()
	sim := railsim.NewServer(railsim.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "WH-ID",
		Clock:        clock.NewFixed(simStart),
	})
	srv := httptest.NewServer(sim.Routes())
	t.Cleanup(srv.Close)
	return sim, wallet.NewClient(wallet.Config{
		BaseURL:      srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "WH-ID",
		Timeout:      2 * time.Second,
	})
}

func authorizedOrder(t *testing.T, sim *railsim.Server, c *wallet.Client) (payments.Order, payments.AuthorizationResult) {
	t.Helper()
	ctx := context.Background()
	order, err := c.CreateOrder(ctx, 3275, "CAD", payments.IntentAuthorize)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := sim.Approve(order.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	res, err := c.Authorize(ctx, order.ID)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	return order, res
}

func TestClient_CreateOrderAndAuthorize(t *testing.T) {
	sim, c := newSim(t)
	ctx := context.Background()

	order, err := c.CreateOrder(ctx, 3275, "CAD", payments.IntentAuthorize)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if order.ID == "" || order.ApprovalURL == "" {
		t.Fatalf("expected order id and approval link, got %+v", order)
	}

	if _, err := c.Authorize(ctx, order.ID); !errors.Is(err, payments.ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}

	if err := sim.Approve(order.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	res, err := c.Authorize(ctx, order.ID)
	if err != nil {
		t.Fatalf("expected authorization, got %v", err)
	}
	if res.AuthorizationID == "" || !res.ExpiresAt.Equal(simStart.Add(29*24*time.Hour)) {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := c.Authorize(ctx, order.ID); !errors.Is(err, payments.ErrAlreadyAuthorized) {
		t.Fatalf("expected ErrAlreadyAuthorized, got %v", err)
	}

	status, err := c.FetchStatus(ctx, order.ID)
	if err != nil || status.State != payments.StateAuthorized || status.AuthorizationID != res.AuthorizationID {
		t.Fatalf("unexpected status %+v, %v", status, err)
	}
	if status.Amount != 3275 {
		t.Errorf("expected amount 3275, got %d", status.Amount)
	}
}

func TestClient_CaptureIsIdempotentPerRequestID(t *testing.T) {
	sim, c := newSim(t)
	_, res := authorizedOrder(t, sim, c)
	ctx := payments.WithIdempotencyKey(context.Background(), "capture-a1")

	first, err := c.Capture(ctx, res.AuthorizationID, 0)
	if err != nil {
		t.Fatalf("expected capture, got %v", err)
	}
	second, err := c.Capture(ctx, res.AuthorizationID, 0)
	if err != nil {
		t.Fatalf("expected replayed capture to succeed, got %v", err)
	}
	if first != second {
		t.Errorf("expected same capture id, got %s and %s", first, second)
	}
	if n := sim.Storage().CaptureCount(res.AuthorizationID); n != 1 {
		t.Errorf("expected exactly one capture, got %d", n)
	}

	if _, err := c.Capture(context.Background(), res.AuthorizationID, 0); !errors.Is(err, payments.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState without request id, got %v", err)
	}

	status, err := c.FetchStatus(context.Background(), res.AuthorizationID)
	if err != nil || status.State != payments.StateCaptured || status.CaptureID != first {
		t.Errorf("unexpected status by authorization id %+v, %v", status, err)
	}
}

func TestClient_Void(t *testing.T) {
	sim, c := newSim(t)
	_, res := authorizedOrder(t, sim, c)
	ctx := context.Background()

	if err := c.Void(ctx, res.AuthorizationID); err != nil {
		t.Fatalf("expected void, got %v", err)
	}
	if err := c.Void(ctx, res.AuthorizationID); err != nil {
		t.Fatalf("expected void of voided authorization to succeed, got %v", err)
	}
	if _, err := c.Capture(ctx, res.AuthorizationID, 0); !errors.Is(err, payments.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState capturing a voided authorization, got %v", err)
	}
}

func TestClient_PartialCaptureAndRefund(t *testing.T) {
	sim, c := newSim(t)
	_, res := authorizedOrder(t, sim, c)
	ctx := context.Background()

	if _, err := c.Capture(ctx, res.AuthorizationID, 5000); !errors.Is(err, payments.ErrAmountExceedsAuthorization) {
		t.Fatalf("expected ErrAmountExceedsAuthorization, got %v", err)
	}
	captureID, err := c.Capture(ctx, res.AuthorizationID, 3000)
	if err != nil {
		t.Fatalf("expected partial capture, got %v", err)
	}

	if _, err := c.Refund(ctx, captureID, 1000); err != nil {
		t.Fatalf("expected refund, got %v", err)
	}
	if _, err := c.Refund(ctx, captureID, 2500); !errors.Is(err, payments.ErrAmountExceedsAuthorization) {
		t.Fatalf("expected refund over remaining to fail, got %v", err)
	}
	if _, err := c.Refund(ctx, captureID, 0); err != nil {
		t.Fatalf("expected full remaining refund, got %v", err)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	sim, c := newSim(t)
	_, res := authorizedOrder(t, sim, c)
	ctx := context.Background()

	sim.InjectFault(http.MethodPost, "/v2/payments/authorizations/", http.StatusServiceUnavailable, "", 1)
	if _, err := c.Capture(ctx, res.AuthorizationID, 0); !errors.Is(err, payments.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if _, err := c.Capture(ctx, res.AuthorizationID, 0); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	if _, err := c.CreateOrder(ctx, 0, "CAD", payments.IntentAuthorize); !errors.Is(err, payments.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	bad := wallet.NewClient(wallet.Config{BaseURL: "http://127.0.0.1:1", ClientID: "client", ClientSecret: "secret", Timeout: time.Second})
	if _, err := bad.FetchStatus(ctx, "ORDER-1"); !errors.Is(err, payments.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable when unreachable, got %v", err)
	}

	var apiErr *wallet.APIError
	_, err := c.FetchStatus(ctx, "missing")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 api error, got %v", err)
	}
}

func TestClient_ParseWebhook(t *testing.T) {
	sim, c := newSim(t)
	ctx := context.Background()

	signedHeader := func(id string) http.Header {
		h := http.Header{}
		h.Set(wallet.HeaderTransmissionID, id)
		h.Set(wallet.HeaderTransmissionSig, sim.Sign(id))
		h.Set(wallet.HeaderTransmissionTime, simStart.Format(time.RFC3339))
		h.Set(wallet.HeaderAuthAlgo, "SHA256withRSA")
		return h
	}
	event := func(id, typ string, resource any) []byte {
		raw, _ := json.Marshal(resource)
		body, _ := json.Marshal(wallet.WebhookEvent{ID: id, EventType: typ, Resource: raw})
		return body
	}

	tests := []struct {
		name    string
		body    []byte
		kind    payments.WebhookKind
		ref     string
		authID  string
		capture string
		refund  string
	}{
		{
			name: "order approved",
			body: event("WH-1", "CHECKOUT.ORDER.APPROVED", wallet.Order{ID: "ORDER-1", Status: wallet.StatusApproved}),
			kind: payments.WebhookAuthorized,
			ref:  "ORDER-1",
		},
		{
			name: "capture completed",
			body: event("WH-2", "PAYMENT.CAPTURE.COMPLETED", wallet.Capture{
				ID:     "CAPTURE-1",
				Status: wallet.StatusCompleted,
				Amount: &wallet.Money{CurrencyCode: "CAD", Value: "32.75"},
				SupplementaryData: &wallet.SupplementaryData{
					RelatedIDs: wallet.RelatedIDs{OrderID: "ORDER-1", AuthorizationID: "AUTH-1"},
				},
			}),
			kind:    payments.WebhookCaptured,
			ref:     "ORDER-1",
			authID:  "AUTH-1",
			capture: "CAPTURE-1",
		},
		{
			name: "authorization voided",
			body: event("WH-3", "PAYMENT.AUTHORIZATION.VOIDED", wallet.Authorization{
				ID:                "AUTH-1",
				Status:            wallet.StatusVoided,
				SupplementaryData: &wallet.SupplementaryData{RelatedIDs: wallet.RelatedIDs{OrderID: "ORDER-1"}},
			}),
			kind:   payments.WebhookVoided,
			ref:    "ORDER-1",
			authID: "AUTH-1",
		},
		{
			name: "capture refunded",
			body: event("WH-4", "PAYMENT.CAPTURE.REFUNDED", wallet.Refund{
				ID:     "REFUND-1",
				Status: wallet.StatusCompleted,
				Amount: &wallet.Money{CurrencyCode: "CAD", Value: "10.00"},
				Links:  []wallet.Link{{Rel: "up", Href: "https://api.example/v2/payments/captures/CAPTURE-1"}},
			}),
			kind:    payments.WebhookRefunded,
			capture: "CAPTURE-1",
			refund:  "REFUND-1",
		},
		{
			name: "unrelated",
			body: event("WH-5", "CUSTOMER.DISPUTE.CREATED", map[string]string{"id": "PP-D-1"}),
			kind: payments.WebhookIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := c.ParseWebhook(ctx, tt.body, signedHeader("T-"+tt.name))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if ev.Kind != tt.kind || ev.ProviderRef != tt.ref || ev.AuthorizationID != tt.authID ||
				ev.CaptureID != tt.capture || ev.RefundID != tt.refund {
				t.Errorf("unexpected event %+v", ev)
			}
		})
	}

	t.Run("forged signature", func(t *testing.T) {
		h := signedHeader("T-1")
		h.Set(wallet.HeaderTransmissionSig, "forged")
		if _, err := c.ParseWebhook(ctx, tests[0].body, h); !errors.Is(err, wallet.ErrInvalidSignature) {
			t.Errorf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("missing headers", func(t *testing.T) {
		if _, err := c.ParseWebhook(ctx, tests[0].body, http.Header{}); !errors.Is(err, wallet.ErrInvalidSignature) {
			t.Errorf("expected ErrInvalidSignature, got %v", err)
		}
	})
}
