package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harman698/OnGoPool/api"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
)

// mockHoldService is a mock implementation of payments.HoldServiceInterface
type mockHoldService struct {
	openHoldFunc         func(ctx context.Context, req payments.OpenHoldRequest) (*payments.HoldResult, error)
	confirmApprovalFunc  func(ctx context.Context, authorizationID, providerOrderID string) (*payments.ApprovalResult, error)
	getAuthorizationFunc func(ctx context.Context, authorizationID string) (*payments.Authorization, error)
}

func (m *mockHoldService) OpenHold(ctx context.Context, req payments.OpenHoldRequest) (*payments.HoldResult, error) {
	if m.openHoldFunc != nil {
		return m.openHoldFunc(ctx, req)
	}
	return nil, nil
}

func (m *mockHoldService) ConfirmApproval(ctx context.Context, authorizationID, providerOrderID string) (*payments.ApprovalResult, error) {
	if m.confirmApprovalFunc != nil {
		return m.confirmApprovalFunc(ctx, authorizationID, providerOrderID)
	}
	return nil, nil
}

func (m *mockHoldService) GetAuthorization(ctx context.Context, authorizationID string) (*payments.Authorization, error) {
	if m.getAuthorizationFunc != nil {
		return m.getAuthorizationFunc(ctx, authorizationID)
	}
	return nil, nil
}

// mockSettlementService is a mock implementation of payments.SettlementServiceInterface
type mockSettlementService struct {
	resolveFunc func(ctx context.Context, bookingID string, decision payments.Decision) (*payments.Resolution, error)
	refundFunc  func(ctx context.Context, authorizationID string, amount money.Amount) (*payments.RefundResult, error)
}

func (m *mockSettlementService) Resolve(ctx context.Context, bookingID string, decision payments.Decision) (*payments.Resolution, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, bookingID, decision)
	}
	return nil, nil
}

func (m *mockSettlementService) Refund(ctx context.Context, authorizationID string, amount money.Amount) (*payments.RefundResult, error) {
	if m.refundFunc != nil {
		return m.refundFunc(ctx, authorizationID, amount)
	}
	return nil, nil
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf []byte
	switch b := body.(type) {
	case string:
		buf = []byte(b)
	default:
		var err error
		buf, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHoldsHandler_PostV1Holds_Success(t *testing.T) {
	mockHolds := &mockHoldService{
		openHoldFunc: func(ctx context.Context, req payments.OpenHoldRequest) (*payments.HoldResult, error) {
			if req.BookingID != "b1" || req.Amount != 3275 || req.Currency != "CAD" || req.Rail != payments.RailWallet {
				t.Errorf("Unexpected request: %+v", req)
			}
			if key, ok := payments.IdempotencyKeyFrom(ctx); !ok || key != "hold-b1" {
				t.Errorf("Expected idempotency key hold-b1, got %q", key)
			}
			return &payments.HoldResult{
				AuthorizationID: "auth-1",
				ProviderOrderID: "ORDER-1",
				ApprovalURL:     "https://wallet.example/approve/ORDER-1",
			}, nil
		},
	}
	handler := NewHoldsHandler(mockHolds, &mockSettlementService{})

	req := jsonRequest(t, http.MethodPost, "/v1/holds", api.PostV1HoldsJSONRequestBody{
		BookingId: "b1",
		Amount:    3275,
		Currency:  "CAD",
		Provider:  api.Wallet,
	})
	req.Header.Set(IdempotencyHeader, "hold-b1")
	w := httptest.NewRecorder()

	handler.PostV1Holds(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d", http.StatusCreated, w.Code)
	}
	var resp api.Hold
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.AuthorizationId != "auth-1" || resp.ProviderOrderId != "ORDER-1" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if resp.ApprovalUrl == nil || *resp.ApprovalUrl != "https://wallet.example/approve/ORDER-1" {
		t.Errorf("Expected approval url, got %v", resp.ApprovalUrl)
	}
	if resp.ClientSecret != nil {
		t.Errorf("Expected no client secret for wallet hold")
	}
}

func TestHoldsHandler_PostV1Holds_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"invalid json", "invalid json"},
		{"missing booking", api.OpenHoldRequest{Amount: 100, Currency: "CAD", Provider: api.Card}},
		{"zero amount", api.OpenHoldRequest{BookingId: "b1", Currency: "CAD", Provider: api.Card}},
		{"unknown provider", api.OpenHoldRequest{BookingId: "b1", Amount: 100, Currency: "CAD", Provider: "cash"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHoldsHandler(&mockHoldService{
				openHoldFunc: func(ctx context.Context, req payments.OpenHoldRequest) (*payments.HoldResult, error) {
					t.Error("OpenHold should not be called")
					return nil, nil
				},
			}, &mockSettlementService{})
			w := httptest.NewRecorder()

			handler.PostV1Holds(w, jsonRequest(t, http.MethodPost, "/v1/holds", tt.body))

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestHoldsHandler_PostV1Holds_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"duplicate hold", payments.ErrDuplicateHold, http.StatusConflict},
		{"booking not found", fmt.Errorf("%w: %w", payments.ErrValidation, payments.ErrBookingNotFound), http.StatusNotFound},
		{"validation", fmt.Errorf("%w: currency", payments.ErrValidation), http.StatusBadRequest},
		{"provider unavailable", fmt.Errorf("card create order: %w", payments.ErrProviderUnavailable), http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHoldsHandler(&mockHoldService{
				openHoldFunc: func(ctx context.Context, req payments.OpenHoldRequest) (*payments.HoldResult, error) {
					return nil, tt.err
				},
			}, &mockSettlementService{})
			w := httptest.NewRecorder()

			handler.PostV1Holds(w, jsonRequest(t, http.MethodPost, "/v1/holds", api.OpenHoldRequest{
				BookingId: "b1", Amount: 100, Currency: "CAD", Provider: api.Card,
			}))

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if bytes.Contains(w.Body.Bytes(), []byte("card create order")) {
				t.Errorf("Provider detail leaked to response: %s", w.Body.String())
			}
		})
	}
}

func TestHoldsHandler_GetV1HoldsAuthorizationId(t *testing.T) {
	deadline := time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)
	mockHolds := &mockHoldService{
		getAuthorizationFunc: func(ctx context.Context, id string) (*payments.Authorization, error) {
			if id != "auth-1" {
				return nil, nil
			}
			return &payments.Authorization{
				ID:               "auth-1",
				BookingID:        "b1",
				Rail:             payments.RailCard,
				ProviderOrderID:  "pi_1",
				Amount:           3275,
				Currency:         "CAD",
				State:            payments.StateAuthorized,
				ResponseDeadline: &deadline,
			}, nil
		},
	}
	handler := NewHoldsHandler(mockHolds, &mockSettlementService{})

	w := httptest.NewRecorder()
	handler.GetV1HoldsAuthorizationId(w, httptest.NewRequest(http.MethodGet, "/v1/holds/auth-1", nil), "auth-1")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp api.Authorization
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.State != "authorized" || resp.Amount != 3275 || resp.Provider != api.Card {
		t.Errorf("Unexpected response %+v", resp)
	}
	if resp.ResponseDeadline == nil || !resp.ResponseDeadline.Equal(deadline) {
		t.Errorf("Expected deadline %v, got %v", deadline, resp.ResponseDeadline)
	}

	w = httptest.NewRecorder()
	handler.GetV1HoldsAuthorizationId(w, httptest.NewRequest(http.MethodGet, "/v1/holds/missing", nil), "missing")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHoldsHandler_PostV1HoldsAuthorizationIdConfirm(t *testing.T) {
	expires := time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC)
	deadline := time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"authorized", nil, http.StatusOK},
		{"not approved", payments.ErrNotApproved, http.StatusConflict},
		{"not found", payments.ErrAuthorizationNotFound, http.StatusNotFound},
		{"invalid state", payments.ErrInvalidState, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHoldsHandler(&mockHoldService{
				confirmApprovalFunc: func(ctx context.Context, authorizationID, providerOrderID string) (*payments.ApprovalResult, error) {
					if authorizationID != "auth-1" || providerOrderID != "ORDER-1" {
						t.Errorf("Unexpected args %s %s", authorizationID, providerOrderID)
					}
					if tt.err != nil {
						return nil, tt.err
					}
					return &payments.ApprovalResult{AuthorizationID: "auth-1", ExpiresAt: expires, ResponseDeadline: deadline}, nil
				},
			}, &mockSettlementService{})
			w := httptest.NewRecorder()

			req := jsonRequest(t, http.MethodPost, "/v1/holds/auth-1/confirm", api.ConfirmApprovalRequest{ProviderOrderId: "ORDER-1"})
			handler.PostV1HoldsAuthorizationIdConfirm(w, req, "auth-1")

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.err == nil {
				var resp api.Approval
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("Failed to decode response: %v", err)
				}
				if !resp.ResponseDeadline.Equal(deadline) {
					t.Errorf("Expected deadline %v, got %v", deadline, resp.ResponseDeadline)
				}
			}
		})
	}
}

func TestHoldsHandler_PostV1BookingsBookingIdResolve(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		err          error
		wantStatus   int
		wantDecision payments.Decision
	}{
		{"accept", `{"decision":"accept"}`, nil, http.StatusOK, payments.DecisionAccept},
		{"decline", `{"decision":"decline"}`, nil, http.StatusOK, payments.DecisionDecline},
		{"expire is sweeper only", `{"decision":"expire"}`, nil, http.StatusBadRequest, ""},
		{"window closed", `{"decision":"accept"}`, payments.ErrResponseWindowClosed, http.StatusConflict, payments.DecisionAccept},
		{"in progress", `{"decision":"accept"}`, payments.ErrSettlementInProgress, http.StatusConflict, payments.DecisionAccept},
		{"no hold", `{"decision":"decline"}`, payments.ErrNoActiveHold, http.StatusNotFound, payments.DecisionDecline},
		{"provider down", `{"decision":"accept"}`, payments.ErrProviderUnavailable, http.StatusServiceUnavailable, payments.DecisionAccept},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewHoldsHandler(&mockHoldService{}, &mockSettlementService{
				resolveFunc: func(ctx context.Context, bookingID string, decision payments.Decision) (*payments.Resolution, error) {
					called = true
					if bookingID != "b1" || decision != tt.wantDecision {
						t.Errorf("Unexpected args %s %s", bookingID, decision)
					}
					if tt.err != nil {
						return nil, tt.err
					}
					return &payments.Resolution{
						BookingID:       "b1",
						AuthorizationID: "auth-1",
						State:           payments.StateCaptured,
						PaymentStatus:   payments.PaymentCaptured,
					}, nil
				},
			})
			w := httptest.NewRecorder()

			handler.PostV1BookingsBookingIdResolve(w, jsonRequest(t, http.MethodPost, "/v1/bookings/b1/resolve", tt.body), "b1")

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if called != (tt.wantDecision != "") {
				t.Errorf("Expected Resolve called=%v, got %v", tt.wantDecision != "", called)
			}
			if w.Code == http.StatusOK {
				var resp api.Resolution
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("Failed to decode response: %v", err)
				}
				if resp.State != "captured" || resp.PaymentStatus != "captured" {
					t.Errorf("Unexpected response %+v", resp)
				}
			}
		})
	}
}

func TestHoldsHandler_PostV1HoldsAuthorizationIdRefund(t *testing.T) {
	var gotAmount money.Amount
	handler := NewHoldsHandler(&mockHoldService{}, &mockSettlementService{
		refundFunc: func(ctx context.Context, authorizationID string, amount money.Amount) (*payments.RefundResult, error) {
			gotAmount = amount
			if amount > 3275 {
				return nil, payments.ErrAmountExceedsAuthorization
			}
			if amount == 0 {
				amount = 3275
			}
			return &payments.RefundResult{AuthorizationID: authorizationID, RefundID: "re_1", Amount: amount, RefundedAmount: amount}, nil
		},
	})

	w := httptest.NewRecorder()
	handler.PostV1HoldsAuthorizationIdRefund(w, jsonRequest(t, http.MethodPost, "/v1/holds/auth-1/refund", `{"amount":1000}`), "auth-1")
	if w.Code != http.StatusOK || gotAmount != 1000 {
		t.Errorf("Expected partial refund of 1000, got status %d amount %d", w.Code, gotAmount)
	}

	w = httptest.NewRecorder()
	handler.PostV1HoldsAuthorizationIdRefund(w, jsonRequest(t, http.MethodPost, "/v1/holds/auth-1/refund", `{}`), "auth-1")
	if w.Code != http.StatusOK || gotAmount != 0 {
		t.Errorf("Expected full refund request, got status %d amount %d", w.Code, gotAmount)
	}
	var resp api.Refund
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Amount != 3275 || resp.RefundId != "re_1" {
		t.Errorf("Unexpected response %+v", resp)
	}

	w = httptest.NewRecorder()
	handler.PostV1HoldsAuthorizationIdRefund(w, jsonRequest(t, http.MethodPost, "/v1/holds/auth-1/refund", `{"amount":5000}`), "auth-1")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, w.Code)
	}

	w = httptest.NewRecorder()
	handler.PostV1HoldsAuthorizationIdRefund(w, jsonRequest(t, http.MethodPost, "/v1/holds/auth-1/refund", `{"amount":-5}`), "auth-1")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
