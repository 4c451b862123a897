package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harman698/OnGoPool/api"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
)

// IdempotencyHeader lets callers pin the provider idempotency key of a hold.
const IdempotencyHeader = "Idempotency-Key"

// HoldsHandler handles HTTP requests for payment holds and their settlement
type HoldsHandler struct {
	holds      payments.HoldServiceInterface
	settlement payments.SettlementServiceInterface
}

func NewHoldsHandler(holds payments.HoldServiceInterface, settlement payments.SettlementServiceInterface) *HoldsHandler {
	return &HoldsHandler{
		holds:      holds,
		settlement: settlement,
	}
}

// PostV1Holds handles POST /v1/holds
func (h *HoldsHandler) PostV1Holds(w http.ResponseWriter, r *http.Request) {
	var reqBody api.PostV1HoldsJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if reqBody.BookingId == "" {
		http.Error(w, "booking_id is required", http.StatusBadRequest)
		return
	}
	if reqBody.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	rail := payments.Rail(reqBody.Provider)
	if !rail.Valid() {
		http.Error(w, "provider must be card or wallet", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		ctx = payments.WithIdempotencyKey(ctx, key)
	}

	hold, err := h.holds.OpenHold(ctx, payments.OpenHoldRequest{
		BookingID: reqBody.BookingId,
		Amount:    money.FromMinor(reqBody.Amount),
		Currency:  money.Currency(reqBody.Currency),
		Rail:      rail,
	})
	if err != nil {
		writePaymentError(w, r, "open_hold", err)
		return
	}

	resp := api.Hold{
		AuthorizationId: hold.AuthorizationID,
		ProviderOrderId: hold.ProviderOrderID,
	}
	if hold.ApprovalURL != "" {
		resp.ApprovalUrl = &hold.ApprovalURL
	}
	if hold.ClientSecret != "" {
		resp.ClientSecret = &hold.ClientSecret
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetV1HoldsAuthorizationId handles GET /v1/holds/{authorization_id}
func (h *HoldsHandler) GetV1HoldsAuthorizationId(w http.ResponseWriter, r *http.Request, authorizationId string) {
	if authorizationId == "" {
		http.Error(w, "authorization_id is required", http.StatusBadRequest)
		return
	}

	auth, err := h.holds.GetAuthorization(r.Context(), authorizationId)
	if err != nil {
		writePaymentError(w, r, "get_authorization", err)
		return
	}
	if auth == nil {
		http.Error(w, "Authorization not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toAPIAuthorization(auth))
}

// PostV1HoldsAuthorizationIdConfirm handles POST /v1/holds/{authorization_id}/confirm
// Called once the payer has approved the order with the provider.
func (h *HoldsHandler) PostV1HoldsAuthorizationIdConfirm(w http.ResponseWriter, r *http.Request, authorizationId string) {
	var reqBody api.PostV1HoldsAuthorizationIdConfirmJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if reqBody.ProviderOrderId == "" {
		http.Error(w, "provider_order_id is required", http.StatusBadRequest)
		return
	}

	approval, err := h.holds.ConfirmApproval(r.Context(), authorizationId, reqBody.ProviderOrderId)
	if err != nil {
		writePaymentError(w, r, "confirm_approval", err)
		return
	}

	writeJSON(w, http.StatusOK, api.Approval{
		AuthorizationId:  approval.AuthorizationID,
		ExpiresAt:        approval.ExpiresAt,
		ResponseDeadline: approval.ResponseDeadline,
	})
}

// PostV1HoldsAuthorizationIdRefund handles POST /v1/holds/{authorization_id}/refund
func (h *HoldsHandler) PostV1HoldsAuthorizationIdRefund(w http.ResponseWriter, r *http.Request, authorizationId string) {
	var reqBody api.PostV1HoldsAuthorizationIdRefundJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	var amount money.Amount
	if reqBody.Amount != nil {
		if *reqBody.Amount <= 0 {
			http.Error(w, "amount must be positive", http.StatusBadRequest)
			return
		}
		amount = money.FromMinor(*reqBody.Amount)
	}

	refund, err := h.settlement.Refund(r.Context(), authorizationId, amount)
	if err != nil {
		writePaymentError(w, r, "refund", err)
		return
	}

	writeJSON(w, http.StatusOK, api.Refund{
		AuthorizationId: refund.AuthorizationID,
		RefundId:        refund.RefundID,
		Amount:          refund.Amount.Minor(),
		RefundedAmount:  refund.RefundedAmount.Minor(),
	})
}

// PostV1BookingsBookingIdResolve handles POST /v1/bookings/{booking_id}/resolve
// Expiry is driven by the sweeper only, so the endpoint takes accept or decline.
func (h *HoldsHandler) PostV1BookingsBookingIdResolve(w http.ResponseWriter, r *http.Request, bookingId string) {
	var reqBody api.PostV1BookingsBookingIdResolveJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var decision payments.Decision
	switch reqBody.Decision {
	case api.Accept:
		decision = payments.DecisionAccept
	case api.Decline:
		decision = payments.DecisionDecline
	default:
		http.Error(w, "decision must be accept or decline", http.StatusBadRequest)
		return
	}

	res, err := h.settlement.Resolve(r.Context(), bookingId, decision)
	if err != nil {
		if errors.Is(err, payments.ErrAmountExceedsAuthorization) {
			// A capture above the held amount is a server-side invariant
			// break, not a caller mistake.
			handlerLogger.Error().Bool("alert", true).Str("booking_id", bookingId).Err(err).Msg("Capture exceeded authorization")
		}
		writePaymentError(w, r, "resolve", err)
		return
	}

	writeJSON(w, http.StatusOK, api.Resolution{
		AuthorizationId: res.AuthorizationID,
		BookingId:       res.BookingID,
		Noop:            res.Noop,
		PaymentStatus:   string(res.PaymentStatus),
		State:           string(res.State),
	})
}

func toAPIAuthorization(a *payments.Authorization) api.Authorization {
	return api.Authorization{
		Amount:           a.Amount.Minor(),
		BookingId:        a.BookingID,
		CreatedAt:        a.CreatedAt,
		Currency:         string(a.Currency),
		Escalated:        a.Escalated,
		ExpiresAt:        a.ExpiresAt,
		Id:               a.ID,
		Provider:         api.Provider(a.Rail),
		ProviderOrderId:  a.ProviderOrderID,
		RefundedAmount:   a.RefundedAmount.Minor(),
		ResponseDeadline: a.ResponseDeadline,
		State:            string(a.State),
		UpdatedAt:        a.UpdatedAt,
	}
}
