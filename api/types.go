// Package api provides the HTTP surface types and chi routing for the
// settlement service. The shapes mirror api/openapi.yaml.
package api

import (
	"time"
)

// Defines values for Provider.
const (
	Card   Provider = "card"
	Wallet Provider = "wallet"
)

// Defines values for ResolveRequestDecision.
const (
	Accept  ResolveRequestDecision = "accept"
	Decline ResolveRequestDecision = "decline"
)

// Defines values for PayoutStatus.
const (
	PayoutStatusRequested  PayoutStatus = "requested"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// Provider defines model for Provider.
type Provider string

// PayoutStatus defines model for PayoutStatus.
type PayoutStatus string

// OpenHoldRequest defines model for OpenHoldRequest.
type OpenHoldRequest struct {
	// Amount in minor currency units.
	Amount    int64    `json:"amount"`
	BookingId string   `json:"booking_id"`
	Currency  string   `json:"currency"`
	Provider  Provider `json:"provider"`
}

// Hold defines model for Hold.
type Hold struct {
	ApprovalUrl     *string `json:"approval_url,omitempty"`
	AuthorizationId string  `json:"authorization_id"`
	ClientSecret    *string `json:"client_secret,omitempty"`
	ProviderOrderId string  `json:"provider_order_id"`
}

// ConfirmApprovalRequest defines model for ConfirmApprovalRequest.
type ConfirmApprovalRequest struct {
	ProviderOrderId string `json:"provider_order_id"`
}

// Approval defines model for Approval.
type Approval struct {
	AuthorizationId  string    `json:"authorization_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	ResponseDeadline time.Time `json:"response_deadline"`
}

// Authorization defines model for Authorization.
type Authorization struct {
	Amount           int64      `json:"amount"`
	BookingId        string     `json:"booking_id"`
	CreatedAt        time.Time  `json:"created_at"`
	Currency         string     `json:"currency"`
	Escalated        bool       `json:"escalated"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Id               string     `json:"id"`
	Provider         Provider   `json:"provider"`
	ProviderOrderId  string     `json:"provider_order_id"`
	RefundedAmount   int64      `json:"refunded_amount"`
	ResponseDeadline *time.Time `json:"response_deadline,omitempty"`
	State            string     `json:"state"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RefundRequest defines model for RefundRequest.
type RefundRequest struct {
	// Amount in minor units; omitted refunds the remaining captured amount.
	Amount *int64 `json:"amount,omitempty"`
}

// Refund defines model for Refund.
type Refund struct {
	Amount          int64  `json:"amount"`
	AuthorizationId string `json:"authorization_id"`
	RefundId        string `json:"refund_id"`
	RefundedAmount  int64  `json:"refunded_amount"`
}

// ResolveRequestDecision defines model for ResolveRequest.Decision.
type ResolveRequestDecision string

// ResolveRequest defines model for ResolveRequest.
type ResolveRequest struct {
	Decision ResolveRequestDecision `json:"decision"`
}

// Resolution defines model for Resolution.
type Resolution struct {
	AuthorizationId string `json:"authorization_id"`
	BookingId       string `json:"booking_id"`
	Noop            bool   `json:"noop"`
	PaymentStatus   string `json:"payment_status"`
	State           string `json:"state"`
}

// Earning defines model for Earning.
type Earning struct {
	AuthorizationId  string    `json:"authorization_id"`
	BookingId        string    `json:"booking_id"`
	CreatedAt        time.Time `json:"created_at"`
	Currency         string    `json:"currency"`
	DriverId         string    `json:"driver_id"`
	EarningDate      time.Time `json:"earning_date"`
	FeeRateBps       int64     `json:"fee_rate_bps"`
	GrossAmount      int64     `json:"gross_amount"`
	Id               string    `json:"id"`
	NetAmount        int64     `json:"net_amount"`
	PayoutRequestId  *string   `json:"payout_request_id,omitempty"`
	ServiceFeeAmount int64     `json:"service_fee_amount"`
	Status           string    `json:"status"`
}

// EarningsSummary defines model for EarningsSummary.
type EarningsSummary struct {
	Currency string           `json:"currency"`
	DriverId string           `json:"driver_id"`
	Totals   map[string]int64 `json:"totals"`
}

// EarningsList defines model for EarningsList.
type EarningsList struct {
	Earnings []Earning       `json:"earnings"`
	Summary  EarningsSummary `json:"summary"`
}

// CreatePayoutRequest defines model for CreatePayoutRequest.
type CreatePayoutRequest struct {
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

// Payout defines model for Payout.
type Payout struct {
	Amount      int64        `json:"amount"`
	CreatedAt   time.Time    `json:"created_at"`
	Currency    string       `json:"currency"`
	Destination string       `json:"destination"`
	DriverId    string       `json:"driver_id"`
	EarningIds  []string     `json:"earning_ids"`
	Id          string       `json:"id"`
	Status      PayoutStatus `json:"status"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PayoutStatusRequest defines model for PayoutStatusRequest.
type PayoutStatusRequest struct {
	Status PayoutStatus `json:"status"`
}

// WebhookAck defines model for WebhookAck.
type WebhookAck struct {
	Duplicate bool `json:"duplicate"`
	Received  bool `json:"received"`
}

// PostV1HoldsJSONRequestBody defines body for PostV1Holds for application/json ContentType.
type PostV1HoldsJSONRequestBody = OpenHoldRequest

// PostV1HoldsAuthorizationIdConfirmJSONRequestBody defines body for PostV1HoldsAuthorizationIdConfirm for application/json ContentType.
type PostV1HoldsAuthorizationIdConfirmJSONRequestBody = ConfirmApprovalRequest

// PostV1HoldsAuthorizationIdRefundJSONRequestBody defines body for PostV1HoldsAuthorizationIdRefund for application/json ContentType.
type PostV1HoldsAuthorizationIdRefundJSONRequestBody = RefundRequest

// PostV1BookingsBookingIdResolveJSONRequestBody defines body for PostV1BookingsBookingIdResolve for application/json ContentType.
type PostV1BookingsBookingIdResolveJSONRequestBody = ResolveRequest

// PostV1DriversDriverIdPayoutsJSONRequestBody defines body for PostV1DriversDriverIdPayouts for application/json ContentType.
type PostV1DriversDriverIdPayoutsJSONRequestBody = CreatePayoutRequest

// PostV1PayoutsPayoutIdStatusJSONRequestBody defines body for PostV1PayoutsPayoutIdStatus for application/json ContentType.
type PostV1PayoutsPayoutIdStatusJSONRequestBody = PayoutStatusRequest
