package wallet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
)

func (c *Client) Rail() payments.Rail {
	return payments.RailWallet
}

func toMoney(amount money.Amount, currency money.Currency) *Money {
	return &Money{CurrencyCode: string(currency), Value: amount.String()}
}

func fromMoney(m *Money) money.Amount {
	if m == nil {
		return 0
	}
	a, err := money.Parse(m.Value)
	if err != nil {
		return 0
	}
	return a
}

func (c *Client) CreateOrder(ctx context.Context, amount money.Amount, currency money.Currency, intent payments.Intent) (payments.Order, error) {
	if !amount.IsPositive() {
		return payments.Order{}, fmt.Errorf("%w: amount must be positive", payments.ErrValidation)
	}
	req := CreateOrderRequest{
		Intent:        string(intent),
		PurchaseUnits: []PurchaseUnit{{Amount: toMoney(amount, currency)}},
	}
	var order Order
	if err := c.do(ctx, "create order", http.MethodPost, "/v2/checkout/orders", req, &order); err != nil {
		return payments.Order{}, err
	}
	out := payments.Order{ID: order.ID}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			out.ApprovalURL = l.Href
		}
	}
	return out, nil
}

func (c *Client) Authorize(ctx context.Context, providerOrderID string) (payments.AuthorizationResult, error) {
	if providerOrderID == "" {
		return payments.AuthorizationResult{}, fmt.Errorf("%w: order id is required", payments.ErrValidation)
	}
	var order Order
	path := fmt.Sprintf("/v2/checkout/orders/%s/authorize", providerOrderID)
	if err := c.do(ctx, "authorize order", http.MethodPost, path, struct{}{}, &order); err != nil {
		return payments.AuthorizationResult{}, err
	}
	auth := firstAuthorization(&order)
	if auth == nil {
		return payments.AuthorizationResult{}, fmt.Errorf("authorize order: no authorization in response: %w", payments.ErrProviderUnavailable)
	}
	return payments.AuthorizationResult{AuthorizationID: auth.ID, ExpiresAt: parseTime(auth.ExpirationTime)}, nil
}

func (c *Client) Capture(ctx context.Context, authorizationID string, amount money.Amount) (string, error) {
	req := CaptureRequest{FinalCapture: true}
	if amount.IsPositive() {
		// Currency comes from the authorization; the API only needs the value
		// in the same currency, so look it up.
		auth, err := c.getAuthorization(ctx, authorizationID)
		if err != nil {
			return "", err
		}
		currency := ""
		if auth.Amount != nil {
			currency = auth.Amount.CurrencyCode
		}
		req.Amount = toMoney(amount, money.Currency(currency))
	}
	var capture Capture
	path := fmt.Sprintf("/v2/payments/authorizations/%s/capture", authorizationID)
	if err := c.do(ctx, "capture authorization", http.MethodPost, path, req, &capture); err != nil {
		return "", err
	}
	return capture.ID, nil
}

func (c *Client) Void(ctx context.Context, authorizationID string) error {
	path := fmt.Sprintf("/v2/payments/authorizations/%s/void", authorizationID)
	err := c.do(ctx, "void authorization", http.MethodPost, path, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Issue == IssueAuthorizationVoided || apiErr.Issue == IssuePreviouslyVoided) {
		return nil
	}
	return err
}

func (c *Client) Refund(ctx context.Context, captureID string, amount money.Amount) (string, error) {
	req := RefundRequest{}
	if amount.IsPositive() {
		capture, err := c.getCapture(ctx, captureID)
		if err != nil {
			return "", err
		}
		currency := ""
		if capture.Amount != nil {
			currency = capture.Amount.CurrencyCode
		}
		req.Amount = toMoney(amount, money.Currency(currency))
	}
	var refund Refund
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", captureID)
	if err := c.do(ctx, "refund capture", http.MethodPost, path, req, &refund); err != nil {
		return "", err
	}
	return refund.ID, nil
}

// FetchStatus accepts an order id or an authorization id.
func (c *Client) FetchStatus(ctx context.Context, providerRef string) (payments.ProviderStatus, error) {
	order, err := c.getOrder(ctx, providerRef)
	if err == nil {
		return orderStatus(order), nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		return payments.ProviderStatus{}, err
	}

	auth, err := c.getAuthorization(ctx, providerRef)
	if err != nil {
		return payments.ProviderStatus{}, err
	}
	status := authorizationStatus(auth)
	if status.State == payments.StateCaptured && auth.SupplementaryData != nil && auth.SupplementaryData.RelatedIDs.OrderID != "" {
		if order, err := c.getOrder(ctx, auth.SupplementaryData.RelatedIDs.OrderID); err == nil {
			status.CaptureID = firstCaptureID(order)
		}
	}
	return status, nil
}

func (c *Client) getOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := c.do(ctx, "get order", http.MethodGet, "/v2/checkout/orders/"+id, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) getAuthorization(ctx context.Context, id string) (*Authorization, error) {
	var auth Authorization
	if err := c.do(ctx, "get authorization", http.MethodGet, "/v2/payments/authorizations/"+id, nil, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

func (c *Client) getCapture(ctx context.Context, id string) (*Capture, error) {
	var capture Capture
	if err := c.do(ctx, "get capture", http.MethodGet, "/v2/payments/captures/"+id, nil, &capture); err != nil {
		return nil, err
	}
	return &capture, nil
}

func firstAuthorization(o *Order) *Authorization {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments != nil && len(pu.Payments.Authorizations) > 0 {
			return &pu.Payments.Authorizations[0]
		}
	}
	return nil
}

func firstCaptureID(o *Order) string {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			return pu.Payments.Captures[0].ID
		}
	}
	return ""
}

func orderStatus(o *Order) payments.ProviderStatus {
	auth := firstAuthorization(o)
	if auth == nil {
		status := payments.ProviderStatus{State: payments.StateCreated}
		if len(o.PurchaseUnits) > 0 {
			status.Amount = fromMoney(o.PurchaseUnits[0].Amount)
		}
		return status
	}
	status := authorizationStatus(auth)
	if status.State == payments.StateCaptured {
		status.CaptureID = firstCaptureID(o)
	}
	return status
}

func authorizationStatus(a *Authorization) payments.ProviderStatus {
	status := payments.ProviderStatus{
		AuthorizationID: a.ID,
		Amount:          fromMoney(a.Amount),
	}
	if exp := parseTime(a.ExpirationTime); !exp.IsZero() {
		status.ExpiresAt = &exp
	}
	switch a.Status {
	case StatusCaptured, StatusPartiallyCaptured:
		status.State = payments.StateCaptured
	case StatusVoided, StatusExpired:
		status.State = payments.StateVoided
	case StatusDenied:
		status.State = payments.StateFailed
	default:
		status.State = payments.StateAuthorized
	}
	return status
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
