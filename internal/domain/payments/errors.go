package payments

import "errors"

var (
	// ErrValidation covers bad input rejected before any network call.
	ErrValidation = errors.New("validation error")
	// ErrProviderUnavailable is a network, auth or 5xx failure at a rail. Retryable.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrNotApproved means the payer has not approved the order yet.
	ErrNotApproved = errors.New("order not approved by payer")
	// ErrAlreadyAuthorized means Authorize was already called for the order.
	ErrAlreadyAuthorized = errors.New("order already authorized")
	// ErrInvalidState is a definitive state conflict; retrying cannot help.
	ErrInvalidState = errors.New("invalid authorization state")
	// ErrAmountExceedsAuthorization is rejected before calling the provider.
	ErrAmountExceedsAuthorization = errors.New("amount exceeds authorization")

	ErrDuplicateHold         = errors.New("booking already has an active hold")
	ErrNoActiveHold          = errors.New("booking has no active hold")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrAuthorizationNotFound = errors.New("authorization not found")
	ErrUnknownRail           = errors.New("unknown payment rail")
	ErrSettlementInProgress  = errors.New("settlement already in progress")
	ErrResponseWindowClosed  = errors.New("driver response window has closed")
	ErrDeadlineNotReached    = errors.New("response deadline not reached")
)

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrSettlementInProgress)
}

// IsDefinitive reports errors that are final answers rather than failures.
func IsDefinitive(err error) bool {
	return errors.Is(err, ErrDuplicateHold) ||
		errors.Is(err, ErrNoActiveHold) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrResponseWindowClosed) ||
		errors.Is(err, ErrDeadlineNotReached) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAmountExceedsAuthorization)
}
