package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/harman698/OnGoPool/internal/domain/earnings"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/rs/zerolog"
)

var handlerLogger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "handler").Logger()

// Provider and internal detail never reaches the caller.
const msgPaymentFailed = "Payment could not be processed, please retry or contact support"

// writePaymentError maps the payments error taxonomy onto HTTP statuses.
func writePaymentError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := http.StatusInternalServerError, "Internal server error"

	switch {
	case errors.Is(err, payments.ErrBookingNotFound):
		status, msg = http.StatusNotFound, "Booking not found"
	case errors.Is(err, payments.ErrValidation):
		status, msg = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, payments.ErrAuthorizationNotFound):
		status, msg = http.StatusNotFound, "Authorization not found"
	case errors.Is(err, payments.ErrNoActiveHold):
		status, msg = http.StatusNotFound, "Booking has no active hold"
	case errors.Is(err, payments.ErrDuplicateHold):
		status, msg = http.StatusConflict, "Booking already has an active hold"
	case errors.Is(err, payments.ErrSettlementInProgress):
		status, msg = http.StatusConflict, "Settlement already in progress, retry shortly"
	case errors.Is(err, payments.ErrResponseWindowClosed):
		status, msg = http.StatusConflict, "Driver response window has closed"
	case errors.Is(err, payments.ErrDeadlineNotReached):
		status, msg = http.StatusConflict, "Response deadline not reached"
	case errors.Is(err, payments.ErrNotApproved):
		status, msg = http.StatusConflict, "Payment not approved by payer yet"
	case errors.Is(err, payments.ErrInvalidState), errors.Is(err, payments.ErrAlreadyAuthorized):
		status, msg = http.StatusConflict, "Payment is not in a state that allows this operation"
	case errors.Is(err, payments.ErrAmountExceedsAuthorization):
		status, msg = http.StatusConflict, "Amount exceeds what was authorized"
	case errors.Is(err, payments.ErrProviderUnavailable):
		status, msg = http.StatusServiceUnavailable, msgPaymentFailed
	}

	logEvent := handlerLogger.Warn()
	if status >= 500 {
		logEvent = handlerLogger.Error()
	}
	logEvent.
		Str("event", "request_failed").
		Str("op", op).
		Str("path", r.URL.Path).
		Int("status_code", status).
		Err(err).
		Msg("Request failed")

	http.Error(w, msg, status)
}

func writeEarningsError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := http.StatusInternalServerError, "Internal server error"

	switch {
	case errors.Is(err, earnings.ErrEarningNotFound):
		status, msg = http.StatusNotFound, "Earning not found"
	case errors.Is(err, earnings.ErrPayoutNotFound):
		status, msg = http.StatusNotFound, "Payout request not found"
	case errors.Is(err, earnings.ErrEarningNotPending):
		status, msg = http.StatusConflict, "Earning is not pending"
	case errors.Is(err, earnings.ErrNoAvailableEarnings):
		status, msg = http.StatusConflict, "No available earnings"
	case errors.Is(err, earnings.ErrInvalidPayoutStatus):
		status, msg = http.StatusConflict, "Invalid payout status transition"
	case errors.Is(err, earnings.ErrDestinationRequired):
		status, msg = http.StatusBadRequest, "destination is required"
	}

	handlerLogger.Warn().
		Str("event", "request_failed").
		Str("op", op).
		Str("path", r.URL.Path).
		Int("status_code", status).
		Err(err).
		Msg("Request failed")

	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		handlerLogger.Error().Err(err).Msg("Failed to encode response")
	}
}
