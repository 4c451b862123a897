package card

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

var cardLogger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "card_rail").Logger()

// Card authorizations lapse seven days after the intent is created.
const authorizationLifetime = 7 * 24 * time.Hour

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API host, used against local fakes.
	BaseURL string
	Timeout time.Duration
}

// Provider runs holds as PaymentIntents with manual capture.
type Provider struct {
	api           *client.API
	webhookSecret string
}

var _ payments.Provider = (*Provider)(nil)

func New(cfg Config) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &Provider{api: api, webhookSecret: cfg.WebhookSecret}
}

func (p *Provider) Rail() payments.Rail {
	return payments.RailCard
}

func (p *Provider) CreateOrder(ctx context.Context, amount money.Amount, currency money.Currency, intent payments.Intent) (payments.Order, error) {
	if !amount.IsPositive() {
		return payments.Order{}, fmt.Errorf("%w: amount must be positive", payments.ErrValidation)
	}
	captureMethod := stripe.PaymentIntentCaptureMethodManual
	if intent == payments.IntentCapture {
		captureMethod = stripe.PaymentIntentCaptureMethodAutomatic
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount.Minor()),
		Currency:           stripe.String(strings.ToLower(string(currency))),
		CaptureMethod:      stripe.String(string(captureMethod)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	withRequestOptions(ctx, &params.Params)

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return payments.Order{}, mapError("create payment intent", err)
	}
	return payments.Order{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// Authorize checks that the client confirmed the intent. Stripe places the
// hold on confirmation, so there is no separate authorize call.
func (p *Provider) Authorize(ctx context.Context, providerOrderID string) (payments.AuthorizationResult, error) {
	pi, err := p.get(ctx, providerOrderID)
	if err != nil {
		return payments.AuthorizationResult{}, err
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		return payments.AuthorizationResult{AuthorizationID: pi.ID, ExpiresAt: expiresAt(pi)}, nil
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusSucceeded:
		return payments.AuthorizationResult{}, fmt.Errorf("%w: payment intent is %s", payments.ErrInvalidState, pi.Status)
	default:
		return payments.AuthorizationResult{}, fmt.Errorf("%w: payment intent is %s", payments.ErrNotApproved, pi.Status)
	}
}

func (p *Provider) Capture(ctx context.Context, authorizationID string, amount money.Amount) (string, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	if amount.IsPositive() {
		params.AmountToCapture = stripe.Int64(amount.Minor())
	}
	params.AddExpand("latest_charge")
	withRequestOptions(ctx, &params.Params)

	pi, err := p.api.PaymentIntents.Capture(authorizationID, params)
	if err != nil {
		return "", mapError("capture payment intent", err)
	}
	return captureID(pi), nil
}

func (p *Provider) Void(ctx context.Context, authorizationID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	withRequestOptions(ctx, &params.Params)

	_, err := p.api.PaymentIntents.Cancel(authorizationID, params)
	if err == nil {
		return nil
	}
	mapped := mapError("cancel payment intent", err)
	if !errors.Is(mapped, payments.ErrInvalidState) {
		return mapped
	}
	// A cancel replayed after a lost response must still read as success.
	pi, getErr := p.get(ctx, authorizationID)
	if getErr == nil && pi.Status == stripe.PaymentIntentStatusCanceled {
		return nil
	}
	return mapped
}

func (p *Provider) Refund(ctx context.Context, captureID string, amount money.Amount) (string, error) {
	params := &stripe.RefundParams{}
	if strings.HasPrefix(captureID, "ch_") {
		params.Charge = stripe.String(captureID)
	} else {
		params.PaymentIntent = stripe.String(captureID)
	}
	if amount.IsPositive() {
		params.Amount = stripe.Int64(amount.Minor())
	}
	withRequestOptions(ctx, &params.Params)

	r, err := p.api.Refunds.New(params)
	if err != nil {
		return "", mapError("create refund", err)
	}
	return r.ID, nil
}

func (p *Provider) FetchStatus(ctx context.Context, providerRef string) (payments.ProviderStatus, error) {
	pi, err := p.get(ctx, providerRef)
	if err != nil {
		return payments.ProviderStatus{}, err
	}
	status := payments.ProviderStatus{
		AuthorizationID: pi.ID,
		Amount:          money.FromMinor(pi.Amount),
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		status.State = payments.StateAuthorized
		exp := expiresAt(pi)
		status.ExpiresAt = &exp
	case stripe.PaymentIntentStatusSucceeded:
		status.State = payments.StateCaptured
		status.CaptureID = captureID(pi)
		status.Amount = money.FromMinor(pi.AmountReceived)
	case stripe.PaymentIntentStatusCanceled:
		status.State = payments.StateVoided
	default:
		status.State = payments.StateCreated
	}
	return status, nil
}

func (p *Provider) get(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: payment intent id is required", payments.ErrValidation)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, mapError("get payment intent", err)
	}
	return pi, nil
}

func withRequestOptions(ctx context.Context, params *stripe.Params) {
	params.Context = ctx
	if key, ok := payments.IdempotencyKeyFrom(ctx); ok {
		params.SetIdempotencyKey(key)
	}
}

func expiresAt(pi *stripe.PaymentIntent) time.Time {
	return time.Unix(pi.Created, 0).UTC().Add(authorizationLifetime)
}

func captureID(pi *stripe.PaymentIntent) string {
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		return pi.LatestCharge.ID
	}
	return pi.ID
}

// mapError folds Stripe errors into the payments taxonomy. Anything that is
// not a Stripe API error is a transport failure.
func mapError(op string, err error) error {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		cardLogger.Warn().Str("event", "card_transport_error").Str("op", op).Err(err).Msg("Card rail unreachable")
		return fmt.Errorf("%s: %w", op, payments.ErrProviderUnavailable)
	}

	cardLogger.Warn().
		Str("event", "card_api_error").
		Str("op", op).
		Int("status", serr.HTTPStatusCode).
		Str("code", string(serr.Code)).
		Str("type", string(serr.Type)).
		Str("message", serr.Msg).
		Msg("Card rail returned an error")

	switch {
	case serr.HTTPStatusCode >= 500, serr.HTTPStatusCode == http.StatusUnauthorized,
		serr.HTTPStatusCode == http.StatusTooManyRequests, serr.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%s: %w", op, payments.ErrProviderUnavailable)
	case serr.Code == stripe.ErrorCodePaymentIntentUnexpectedState,
		serr.Code == stripe.ErrorCodeChargeAlreadyRefunded:
		return fmt.Errorf("%s: %w", op, payments.ErrInvalidState)
	case serr.Code == stripe.ErrorCodeAmountTooLarge:
		return fmt.Errorf("%s: %w", op, payments.ErrAmountExceedsAuthorization)
	case serr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, payments.ErrInvalidState)
	case serr.Type == stripe.ErrorTypeCard:
		return fmt.Errorf("%s: %w", op, payments.ErrNotApproved)
	default:
		return fmt.Errorf("%s: %w", op, payments.ErrValidation)
	}
}
