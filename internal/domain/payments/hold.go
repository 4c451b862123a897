package payments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/money"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var paymentsLogger = zerolog.New(os.Stdout).
	With().
	Timestamp().
	Str("component", "payments").
	Logger()

const (
	defaultResponseWindow = 12 * time.Hour
	defaultCacheTTL       = 5 * time.Minute
)

type HoldServiceInterface interface {
	OpenHold(ctx context.Context, req OpenHoldRequest) (*HoldResult, error)
	ConfirmApproval(ctx context.Context, authorizationID, providerOrderID string) (*ApprovalResult, error)
	GetAuthorization(ctx context.Context, authorizationID string) (*Authorization, error)
}

// HoldCoordinator opens holds through the selected rail and records them.
type HoldCoordinator struct {
	repo           Repository
	bookings       Bookings
	providers      Providers
	clock          clock.Clock
	cache          AuthorizationCache
	singleFlight   *singleflight.Group
	responseWindow time.Duration
}

type HoldOption func(*HoldCoordinator)

// WithResponseWindow overrides how long a driver has to answer.
func WithResponseWindow(d time.Duration) HoldOption {
	return func(h *HoldCoordinator) {
		if d > 0 {
			h.responseWindow = d
		}
	}
}

func WithHoldCache(c AuthorizationCache) HoldOption {
	return func(h *HoldCoordinator) {
		h.cache = c
	}
}

func NewHoldCoordinator(repo Repository, bookings Bookings, providers Providers, clk clock.Clock, opts ...HoldOption) *HoldCoordinator {
	h := &HoldCoordinator{
		repo:           repo,
		bookings:       bookings,
		providers:      providers,
		clock:          clk,
		singleFlight:   &singleflight.Group{},
		responseWindow: defaultResponseWindow,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OpenHold creates a provider order for the booking and persists a created
// authorization. The booking itself is not touched until approval.
func (h *HoldCoordinator) OpenHold(ctx context.Context, req OpenHoldRequest) (*HoldResult, error) {
	if req.BookingID == "" {
		return nil, fmt.Errorf("%w: booking_id is required", ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	currency, err := money.ParseCurrency(string(req.Currency))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	provider, err := h.providers.Get(req.Rail)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	booking, err := h.bookings.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrBookingNotFound)
	}
	if booking.Currency != "" && booking.Currency != currency {
		return nil, fmt.Errorf("%w: currency %s does not match booking currency %s", ErrValidation, currency, booking.Currency)
	}

	active, err := h.repo.GetActiveAuthorization(ctx, req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active hold: %w", err)
	}
	if active != nil {
		return nil, ErrDuplicateHold
	}

	now := h.clock.Now()
	auth := &Authorization{
		ID:        uuid.New().String(),
		BookingID: req.BookingID,
		Rail:      req.Rail,
		Amount:    req.Amount,
		Currency:  currency,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	order, err := provider.CreateOrder(ctx, req.Amount, currency, IntentAuthorize)
	if err != nil {
		auth.State = StateFailed
		auth.LastError = err.Error()
		if recErr := h.repo.CreateAuthorization(ctx, auth); recErr != nil {
			paymentsLogger.Error().
				Str("event", "hold_audit_failed").
				Str("booking_id", req.BookingID).
				Err(recErr).
				Msg("Failed to record failed hold attempt")
		}
		paymentsLogger.Warn().
			Str("event", "hold_create_failed").
			Str("booking_id", req.BookingID).
			Str("provider", string(req.Rail)).
			Err(err).
			Msg("Provider rejected order creation")
		return nil, err
	}

	auth.ProviderOrderID = order.ID
	if err := h.repo.CreateAuthorization(ctx, auth); err != nil {
		if errors.Is(err, ErrDuplicateHold) {
			// Lost a race with another OpenHold; the provider order is
			// unapproved so nothing is held.
			paymentsLogger.Warn().
				Str("event", "hold_duplicate_race").
				Str("booking_id", req.BookingID).
				Str("provider_order_id", order.ID).
				Msg("Concurrent hold won, discarding provider order")
			return nil, ErrDuplicateHold
		}
		return nil, fmt.Errorf("failed to create authorization: %w", err)
	}

	paymentsLogger.Info().
		Str("event", "hold_opened").
		Str("booking_id", req.BookingID).
		Str("authorization_id", auth.ID).
		Str("provider", string(req.Rail)).
		Str("provider_order_id", order.ID).
		Str("amount", req.Amount.String()).
		Str("currency", string(currency)).
		Msg("Hold opened, awaiting payer approval")

	return &HoldResult{
		AuthorizationID: auth.ID,
		ProviderOrderID: order.ID,
		ApprovalURL:     order.ApprovalURL,
		ClientSecret:    order.ClientSecret,
	}, nil
}

// ConfirmApproval authorizes an approved order and starts the driver's
// response window.
func (h *HoldCoordinator) ConfirmApproval(ctx context.Context, authorizationID, providerOrderID string) (*ApprovalResult, error) {
	if authorizationID == "" || providerOrderID == "" {
		return nil, fmt.Errorf("%w: authorization_id and provider_order_id are required", ErrValidation)
	}
	auth, err := h.repo.GetAuthorization(ctx, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}
	if auth == nil {
		return nil, ErrAuthorizationNotFound
	}
	if auth.ProviderOrderID != providerOrderID {
		return nil, fmt.Errorf("%w: provider order does not match authorization", ErrValidation)
	}

	switch auth.State {
	case StateAuthorized:
		return approvalResult(auth), nil
	case StateCreated:
	default:
		return nil, fmt.Errorf("%w: authorization is %s", ErrInvalidState, auth.State)
	}

	provider, err := h.providers.Get(auth.Rail)
	if err != nil {
		return nil, err
	}

	result, err := provider.Authorize(ctx, providerOrderID)
	if errors.Is(err, ErrAlreadyAuthorized) {
		result, err = h.recoverAuthorization(ctx, provider, providerOrderID)
	}
	if err != nil {
		if errors.Is(err, ErrNotApproved) || errors.Is(err, ErrProviderUnavailable) {
			paymentsLogger.Warn().
				Str("event", "approval_pending").
				Str("authorization_id", auth.ID).
				Err(err).
				Msg("Authorization not completed, hold stays created")
			return nil, err
		}
		if _, tErr := h.repo.TransitionAuthorization(ctx, auth.ID, Transition{
			From:      StateCreated,
			To:        StateFailed,
			LastError: err.Error(),
		}); tErr != nil {
			paymentsLogger.Error().Str("authorization_id", auth.ID).Err(tErr).Msg("Failed to mark authorization failed")
		}
		h.invalidate(ctx, auth.ID)
		paymentsLogger.Warn().
			Str("event", "authorization_failed").
			Str("authorization_id", auth.ID).
			Str("booking_id", auth.BookingID).
			Err(err).
			Msg("Provider authorization failed")
		return nil, err
	}

	now := h.clock.Now()
	deadline := now.Add(h.responseWindow)
	if !result.ExpiresAt.IsZero() && result.ExpiresAt.Before(deadline) {
		deadline = result.ExpiresAt
	}
	var expiresAt *time.Time
	if !result.ExpiresAt.IsZero() {
		exp := result.ExpiresAt
		expiresAt = &exp
	}

	err = h.repo.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := h.repo.TransitionAuthorization(txCtx, auth.ID, Transition{
			From:                    StateCreated,
			To:                      StateAuthorized,
			ProviderAuthorizationID: result.AuthorizationID,
			ExpiresAt:               expiresAt,
			ResponseDeadline:        &deadline,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: authorization left created state during approval", ErrInvalidState)
		}
		if err := h.bookings.SetResponseDeadline(txCtx, auth.BookingID, deadline); err != nil {
			return fmt.Errorf("failed to set response deadline: %w", err)
		}
		if err := h.bookings.SetPaymentStatus(txCtx, auth.BookingID, PaymentAuthorized); err != nil {
			return fmt.Errorf("failed to set payment status: %w", err)
		}
		if err := h.bookings.SetAuthorizationRef(txCtx, auth.BookingID, auth.ID); err != nil {
			return fmt.Errorf("failed to set authorization reference: %w", err)
		}
		return nil
	})
	h.invalidate(ctx, auth.ID)
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			return h.afterLostApproval(ctx, provider, auth.ID, result.AuthorizationID, err)
		}
		return nil, err
	}

	paymentsLogger.Info().
		Str("event", "hold_authorized").
		Str("authorization_id", auth.ID).
		Str("booking_id", auth.BookingID).
		Time("response_deadline", deadline).
		Msg("Hold authorized")

	return &ApprovalResult{
		AuthorizationID:  auth.ID,
		ExpiresAt:        result.ExpiresAt,
		ResponseDeadline: deadline,
	}, nil
}

// afterLostApproval runs when another caller moved the row out of created
// first. A concurrent confirm of the same provider authorization is success.
// The provider authorization is released only when the row ended terminal.
func (h *HoldCoordinator) afterLostApproval(ctx context.Context, provider Provider, authID, providerAuthID string, cause error) (*ApprovalResult, error) {
	current, err := h.repo.GetAuthorization(ctx, authID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload authorization: %w", err)
	}
	if current == nil {
		return nil, ErrAuthorizationNotFound
	}

	switch {
	case current.ProviderAuthorizationID == providerAuthID &&
		(current.State == StateAuthorized || current.State == StateCaptured):
		paymentsLogger.Info().
			Str("event", "approval_collapsed").
			Str("authorization_id", authID).
			Msg("Concurrent confirm already recorded the authorization")
		return approvalResult(current), nil
	case current.State == StateVoided || current.State == StateFailed:
		if vErr := provider.Void(ctx, providerAuthID); vErr != nil {
			paymentsLogger.Error().
				Str("event", "orphan_void_failed").
				Bool("alert", true).
				Str("authorization_id", authID).
				Str("provider_authorization_id", providerAuthID).
				Err(vErr).
				Msg("Failed to release provider authorization for resolved hold")
		}
		return nil, cause
	default:
		paymentsLogger.Error().
			Str("event", "approval_conflict").
			Bool("alert", true).
			Str("authorization_id", authID).
			Str("state", string(current.State)).
			Str("provider_authorization_id", providerAuthID).
			Str("recorded_authorization_id", current.ProviderAuthorizationID).
			Msg("Authorization left created state with a different provider authorization")
		return nil, cause
	}
}

func (h *HoldCoordinator) recoverAuthorization(ctx context.Context, provider Provider, providerOrderID string) (AuthorizationResult, error) {
	status, err := provider.FetchStatus(ctx, providerOrderID)
	if err != nil {
		return AuthorizationResult{}, err
	}
	if status.State != StateAuthorized || status.AuthorizationID == "" {
		return AuthorizationResult{}, fmt.Errorf("%w: provider reports %s", ErrInvalidState, status.State)
	}
	res := AuthorizationResult{AuthorizationID: status.AuthorizationID}
	if status.ExpiresAt != nil {
		res.ExpiresAt = *status.ExpiresAt
	}
	return res, nil
}

// GetAuthorization is cache-first and collapses concurrent misses.
func (h *HoldCoordinator) GetAuthorization(ctx context.Context, authorizationID string) (*Authorization, error) {
	if authorizationID == "" {
		return nil, fmt.Errorf("%w: authorization_id is required", ErrValidation)
	}
	if h.cache != nil {
		if cached, err := h.cache.GetAuthorization(ctx, authorizationID); err == nil && cached != nil {
			return cached, nil
		}
	}

	result, err, _ := h.singleFlight.Do(authorizationID, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		auth, err := h.repo.GetAuthorization(ctx, authorizationID)
		if err != nil {
			return nil, fmt.Errorf("failed to get authorization: %w", err)
		}
		if auth == nil {
			return nil, nil
		}
		if h.cache != nil {
			_ = h.cache.SetAuthorization(ctx, auth, defaultCacheTTL)
		}
		return auth, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*Authorization), nil
}

func (h *HoldCoordinator) invalidate(ctx context.Context, id string) {
	if h.cache != nil {
		_ = h.cache.Invalidate(ctx, id)
	}
}

func approvalResult(a *Authorization) *ApprovalResult {
	res := &ApprovalResult{AuthorizationID: a.ID}
	if a.ExpiresAt != nil {
		res.ExpiresAt = *a.ExpiresAt
	}
	if a.ResponseDeadline != nil {
		res.ResponseDeadline = *a.ResponseDeadline
	}
	return res
}
