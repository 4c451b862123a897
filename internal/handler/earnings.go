package handler

import (
	"encoding/json"
	"net/http"

	"github.com/harman698/OnGoPool/api"
	"github.com/harman698/OnGoPool/internal/domain/earnings"
	"github.com/harman698/OnGoPool/internal/money"
)

// EarningsHandler handles HTTP requests for driver earnings and payouts
type EarningsHandler struct {
	earningsService earnings.ServiceInterface
}

func NewEarningsHandler(earningsService earnings.ServiceInterface) *EarningsHandler {
	return &EarningsHandler{
		earningsService: earningsService,
	}
}

// PostV1BookingsBookingIdEarningAvailable handles POST /v1/bookings/{booking_id}/earning/available
// Called by the booking subsystem when the ride completes.
func (h *EarningsHandler) PostV1BookingsBookingIdEarningAvailable(w http.ResponseWriter, r *http.Request, bookingId string) {
	if bookingId == "" {
		http.Error(w, "booking_id is required", http.StatusBadRequest)
		return
	}

	e, err := h.earningsService.MarkAvailable(r.Context(), bookingId)
	if err != nil {
		writeEarningsError(w, r, "mark_available", err)
		return
	}

	writeJSON(w, http.StatusOK, toAPIEarning(e))
}

// GetV1DriversDriverIdEarnings handles GET /v1/drivers/{driver_id}/earnings
func (h *EarningsHandler) GetV1DriversDriverIdEarnings(w http.ResponseWriter, r *http.Request, driverId string) {
	if driverId == "" {
		http.Error(w, "driver_id is required", http.StatusBadRequest)
		return
	}

	list, summary, err := h.earningsService.ListEarnings(r.Context(), driverId)
	if err != nil {
		writeEarningsError(w, r, "list_earnings", err)
		return
	}

	resp := api.EarningsList{
		Earnings: make([]api.Earning, 0, len(list)),
		Summary: api.EarningsSummary{
			DriverId: driverId,
			Totals:   map[string]int64{},
		},
	}
	for _, e := range list {
		resp.Earnings = append(resp.Earnings, toAPIEarning(e))
	}
	if summary != nil {
		resp.Summary.Currency = string(summary.Currency)
		for status, total := range summary.Totals {
			resp.Summary.Totals[string(status)] = total.Minor()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// PostV1DriversDriverIdPayouts handles POST /v1/drivers/{driver_id}/payouts
func (h *EarningsHandler) PostV1DriversDriverIdPayouts(w http.ResponseWriter, r *http.Request, driverId string) {
	var reqBody api.PostV1DriversDriverIdPayoutsJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	currency, err := money.ParseCurrency(reqBody.Currency)
	if err != nil {
		http.Error(w, "Invalid currency", http.StatusBadRequest)
		return
	}
	if reqBody.Destination == "" {
		http.Error(w, "destination is required", http.StatusBadRequest)
		return
	}

	payout, err := h.earningsService.RequestPayout(r.Context(), driverId, currency, reqBody.Destination)
	if err != nil {
		writeEarningsError(w, r, "request_payout", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAPIPayout(payout))
}

// PostV1PayoutsPayoutIdStatus handles POST /v1/payouts/{payout_id}/status
func (h *EarningsHandler) PostV1PayoutsPayoutIdStatus(w http.ResponseWriter, r *http.Request, payoutId string) {
	var reqBody api.PostV1PayoutsPayoutIdStatusJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if reqBody.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}

	payout, err := h.earningsService.AdvancePayout(r.Context(), payoutId, earnings.PayoutStatus(reqBody.Status))
	if err != nil {
		writeEarningsError(w, r, "advance_payout", err)
		return
	}

	writeJSON(w, http.StatusOK, toAPIPayout(payout))
}

func toAPIEarning(e *earnings.Earning) api.Earning {
	out := api.Earning{
		AuthorizationId:  e.AuthorizationID,
		BookingId:        e.BookingID,
		CreatedAt:        e.CreatedAt,
		Currency:         string(e.Currency),
		DriverId:         e.DriverID,
		EarningDate:      e.EarningDate,
		FeeRateBps:       int64(e.FeeRate),
		GrossAmount:      e.Gross.Minor(),
		Id:               e.ID,
		NetAmount:        e.Net.Minor(),
		ServiceFeeAmount: e.ServiceFee.Minor(),
		Status:           string(e.Status),
	}
	if e.PayoutRequestID != "" {
		id := e.PayoutRequestID
		out.PayoutRequestId = &id
	}
	return out
}

func toAPIPayout(p *earnings.PayoutRequest) api.Payout {
	ids := p.EarningIDs
	if ids == nil {
		ids = []string{}
	}
	return api.Payout{
		Amount:      p.Amount.Minor(),
		CreatedAt:   p.CreatedAt,
		Currency:    string(p.Currency),
		Destination: p.Destination,
		DriverId:    p.DriverID,
		EarningIds:  ids,
		Id:          p.ID,
		Status:      api.PayoutStatus(p.Status),
		UpdatedAt:   p.UpdatedAt,
	}
}
