package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harman698/OnGoPool/api"
	"github.com/harman698/OnGoPool/internal/domain/payments"
)

type mockReconciler struct {
	handleEventFunc func(ctx context.Context, ev *payments.WebhookEvent) (bool, error)
	events          []*payments.WebhookEvent
}

func (m *mockReconciler) HandleEvent(ctx context.Context, ev *payments.WebhookEvent) (bool, error) {
	m.events = append(m.events, ev)
	if m.handleEventFunc != nil {
		return m.handleEventFunc(ctx, ev)
	}
	return true, nil
}

type mockCardParser struct {
	parseFunc func(payload []byte, signature string) (*payments.WebhookEvent, error)
}

func (m *mockCardParser) ParseWebhook(payload []byte, signature string) (*payments.WebhookEvent, error) {
	return m.parseFunc(payload, signature)
}

type mockWalletParser struct {
	parseFunc func(ctx context.Context, payload []byte, header http.Header) (*payments.WebhookEvent, error)
}

func (m *mockWalletParser) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*payments.WebhookEvent, error) {
	return m.parseFunc(ctx, payload, header)
}

var errBadSignature = errors.New("bad signature")

func newCardParser() *mockCardParser {
	return &mockCardParser{
		parseFunc: func(payload []byte, signature string) (*payments.WebhookEvent, error) {
			if signature != "good" {
				return nil, errBadSignature
			}
			return &payments.WebhookEvent{
				Rail:    payments.RailCard,
				EventID: "evt_1",
				Kind:    payments.WebhookCaptured,
				Payload: payload,
			}, nil
		},
	}
}

func TestWebhooksHandler_PostWebhooksCard(t *testing.T) {
	tests := []struct {
		name          string
		signature     string
		created       bool
		recordErr     error
		wantStatus    int
		wantDuplicate bool
	}{
		{name: "recorded", signature: "good", created: true, wantStatus: http.StatusOK},
		{name: "duplicate", signature: "good", created: false, wantStatus: http.StatusOK, wantDuplicate: true},
		{name: "forged", signature: "bad", wantStatus: http.StatusBadRequest},
		{name: "store down", signature: "good", recordErr: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockReconciler{
				handleEventFunc: func(ctx context.Context, ev *payments.WebhookEvent) (bool, error) {
					return tt.created, tt.recordErr
				},
			}
			handler := NewWebhooksHandler(rec, newCardParser(), "Stripe-Signature", nil)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/card", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", tt.signature)
			w := httptest.NewRecorder()
			handler.PostWebhooksCard(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.signature == "bad" && len(rec.events) != 0 {
				t.Error("Forged webhook must not reach the reconciler")
			}
			if w.Code == http.StatusOK {
				var ack api.WebhookAck
				if err := json.NewDecoder(w.Body).Decode(&ack); err != nil {
					t.Fatalf("Failed to decode response: %v", err)
				}
				if !ack.Received || ack.Duplicate != tt.wantDuplicate {
					t.Errorf("Unexpected ack %+v", ack)
				}
				if string(rec.events[0].Payload) != `{"id":"evt_1"}` {
					t.Errorf("Expected raw payload passed through, got %s", rec.events[0].Payload)
				}
			}
		})
	}
}

func TestWebhooksHandler_PostWebhooksWallet(t *testing.T) {
	tests := []struct {
		name       string
		parseErr   error
		wantStatus int
	}{
		{"verified", nil, http.StatusOK},
		{"verification unavailable", fmt.Errorf("verify: %w", payments.ErrProviderUnavailable), http.StatusServiceUnavailable},
		{"forged", errBadSignature, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockReconciler{}
			wallet := &mockWalletParser{
				parseFunc: func(ctx context.Context, payload []byte, header http.Header) (*payments.WebhookEvent, error) {
					if header.Get("Paypal-Transmission-Id") != "tx-1" {
						t.Errorf("Expected transmission header to be passed through")
					}
					if tt.parseErr != nil {
						return nil, tt.parseErr
					}
					return &payments.WebhookEvent{Rail: payments.RailWallet, EventID: "WH-1", Kind: payments.WebhookVoided}, nil
				},
			}
			handler := NewWebhooksHandler(rec, nil, "", wallet)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/wallet", strings.NewReader(`{"id":"WH-1"}`))
			req.Header.Set("Paypal-Transmission-Id", "tx-1")
			w := httptest.NewRecorder()
			handler.PostWebhooksWallet(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestWebhooksHandler_RailNotConfigured(t *testing.T) {
	handler := NewWebhooksHandler(&mockReconciler{}, nil, "", nil)

	w := httptest.NewRecorder()
	handler.PostWebhooksCard(w, httptest.NewRequest(http.MethodPost, "/webhooks/card", strings.NewReader("{}")))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}
