package wallet

import "encoding/json"

// Wire types for the wallet Orders v2 REST API. Only the fields the rail
// reads are declared.

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	Amount      *Money    `json:"amount,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

type Payments struct {
	Authorizations []Authorization `json:"authorizations,omitempty"`
	Captures       []Capture       `json:"captures,omitempty"`
}

type CreateOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

type Order struct {
	ID            string         `json:"id"`
	Intent        string         `json:"intent,omitempty"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

type RelatedIDs struct {
	OrderID         string `json:"order_id,omitempty"`
	AuthorizationID string `json:"authorization_id,omitempty"`
	CaptureID       string `json:"capture_id,omitempty"`
}

type SupplementaryData struct {
	RelatedIDs RelatedIDs `json:"related_ids"`
}

type Authorization struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Amount            *Money             `json:"amount,omitempty"`
	ExpirationTime    string             `json:"expiration_time,omitempty"`
	SupplementaryData *SupplementaryData `json:"supplementary_data,omitempty"`
	Links             []Link             `json:"links,omitempty"`
}

type CaptureRequest struct {
	Amount       *Money `json:"amount,omitempty"`
	FinalCapture bool   `json:"final_capture"`
}

type Capture struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Amount            *Money             `json:"amount,omitempty"`
	SupplementaryData *SupplementaryData `json:"supplementary_data,omitempty"`
	Links             []Link             `json:"links,omitempty"`
}

type RefundRequest struct {
	Amount *Money `json:"amount,omitempty"`
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *Money `json:"amount,omitempty"`
	Links  []Link `json:"links,omitempty"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type ErrorDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description,omitempty"`
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Name    string        `json:"name"`
	Message string        `json:"message"`
	DebugID string        `json:"debug_id,omitempty"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type WebhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type,omitempty"`
	CreateTime   string          `json:"create_time,omitempty"`
	Resource     json.RawMessage `json:"resource"`
}

type VerifySignatureRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type VerifySignatureResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// Order, authorization and capture statuses.
const (
	StatusCreated           = "CREATED"
	StatusApproved          = "APPROVED"
	StatusCompleted         = "COMPLETED"
	StatusVoided            = "VOIDED"
	StatusCaptured          = "CAPTURED"
	StatusPartiallyCaptured = "PARTIALLY_CAPTURED"
	StatusExpired           = "EXPIRED"
	StatusDenied            = "DENIED"
)

// Error issues the rail maps onto the payments taxonomy.
const (
	IssueOrderNotApproved       = "ORDER_NOT_APPROVED"
	IssueOrderAlreadyAuthorized = "ORDER_ALREADY_AUTHORIZED"
	IssueAlreadyCaptured        = "AUTHORIZATION_ALREADY_CAPTURED"
	IssuePreviouslyCaptured     = "PREVIOUSLY_CAPTURED"
	IssueMaxCaptureExceeded     = "MAX_CAPTURE_AMOUNT_EXCEEDED"
	IssueAuthorizationVoided    = "AUTHORIZATION_VOIDED"
	IssuePreviouslyVoided       = "PREVIOUSLY_VOIDED"
	IssueAuthorizationExpired   = "AUTHORIZATION_EXPIRED"
	IssueRefundAmountExceeded   = "REFUND_AMOUNT_EXCEEDED"
	IssueResourceNotFound       = "RESOURCE_NOT_FOUND"
	IssueInstrumentDeclined     = "INSTRUMENT_DECLINED"
)
