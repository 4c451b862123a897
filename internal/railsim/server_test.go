package railsim

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/rails/wallet"
)

func newTestServer(t *testing.T) (*Server, http.Handler, string) {
	t.Helper()
	s := NewServer(Config{ClientID: "c", ClientSecret: "s", WebhookID: "wh", Clock: clock.NewFixed(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))})
	token := s.Storage().IssueToken(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	return s, s.Routes(), token
}

func do(t *testing.T, h http.Handler, method, path, token, requestID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if requestID != "" {
		req.Header.Set(wallet.RequestIDHeader, requestID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_RequiresBearer(t *testing.T) {
	_, h, _ := newTestServer(t)
	w := do(t, h, http.MethodGet, "/v2/checkout/orders/ORDER-1", "", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestServer_TokenRequiresClientCredentials(t *testing.T) {
	_, h, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/oauth2/token", nil)
	req.SetBasicAuth("c", "wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestServer_OrderFlowAndReplay(t *testing.T) {
	s, h, token := newTestServer(t)

	w := do(t, h, http.MethodPost, "/v2/checkout/orders", token, "", wallet.CreateOrderRequest{
		Intent:        "AUTHORIZE",
		PurchaseUnits: []wallet.PurchaseUnit{{Amount: &wallet.Money{CurrencyCode: "CAD", Value: "50.00"}}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var order wallet.Order
	_ = json.Unmarshal(w.Body.Bytes(), &order)

	w = do(t, h, http.MethodPost, "/v2/checkout/orders/"+order.ID+"/authorize", token, "", struct{}{})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 before approval, got %d", w.Code)
	}

	if err := s.Approve(order.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	w = do(t, h, http.MethodPost, "/v2/checkout/orders/"+order.ID+"/authorize", token, "", struct{}{})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &order)
	authID := order.PurchaseUnits[0].Payments.Authorizations[0].ID

	first := do(t, h, http.MethodPost, "/v2/payments/authorizations/"+authID+"/capture", token, "k1", wallet.CaptureRequest{FinalCapture: true})
	second := do(t, h, http.MethodPost, "/v2/payments/authorizations/"+authID+"/capture", token, "k1", wallet.CaptureRequest{FinalCapture: true})
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both 201, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("expected replayed body, got %s vs %s", first.Body.String(), second.Body.String())
	}
	if n := s.Storage().CaptureCount(authID); n != 1 {
		t.Errorf("expected one capture, got %d", n)
	}

	w = do(t, h, http.MethodPost, "/v2/payments/authorizations/"+authID+"/void", token, "", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 voiding a captured authorization, got %d", w.Code)
	}
}

func TestServer_InjectFault(t *testing.T) {
	s, h, token := newTestServer(t)
	s.InjectFault(http.MethodGet, "/v2/checkout/orders/", http.StatusServiceUnavailable, "", 1)

	if w := do(t, h, http.MethodGet, "/v2/checkout/orders/ORDER-1", token, "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected injected 503, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/v2/checkout/orders/ORDER-1", token, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after fault is spent, got %d", w.Code)
	}
}
