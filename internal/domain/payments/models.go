package payments

import (
	"time"

	"github.com/harman698/OnGoPool/internal/money"
)

// Rail tags the external processor a hold runs through.
type Rail string

const (
	RailCard   Rail = "card"
	RailWallet Rail = "wallet"
)

func (r Rail) Valid() bool {
	return r == RailCard || r == RailWallet
}

// Intent is the order intent passed to CreateOrder.
type Intent string

const (
	IntentAuthorize Intent = "AUTHORIZE"
	IntentCapture   Intent = "CAPTURE"
)

// State of a PaymentAuthorization row.
type State string

const (
	StateCreated    State = "created"
	StateAuthorized State = "authorized"
	StateCaptured   State = "captured"
	StateVoided     State = "voided"
	StateFailed     State = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCaptured || s == StateVoided || s == StateFailed
}

// PaymentStatus mirrors the booking's payment_status column.
type PaymentStatus string

const (
	PaymentNone       PaymentStatus = "none"
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentVoided     PaymentStatus = "voided"
	PaymentExpired    PaymentStatus = "expired"
)

// DriverDecision mirrors the booking's driver_decision column.
type DriverDecision string

const (
	DriverDecisionNone     DriverDecision = "none"
	DriverDecisionAccepted DriverDecision = "accepted"
	DriverDecisionDeclined DriverDecision = "declined"
)

// Decision is the input to Resolve.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
	DecisionExpire  Decision = "expire"
)

func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionDecline || d == DecisionExpire
}

// Booking is the slice of the booking subsystem's record the core reads.
type Booking struct {
	ID               string
	RideID           string
	PassengerID      string
	DriverID         string
	Seats            int
	Amount           money.Amount
	Currency         money.Currency
	PaymentStatus    PaymentStatus
	ResponseDeadline *time.Time
	DriverDecision   DriverDecision
	AuthorizationID  string
}

// Authorization is one hold attempt against a booking.
type Authorization struct {
	ID                      string         `json:"id"`
	BookingID               string         `json:"booking_id"`
	Rail                    Rail           `json:"provider"`
	ProviderOrderID         string         `json:"provider_order_id"`
	ProviderAuthorizationID string         `json:"provider_authorization_id,omitempty"`
	ProviderCaptureID       string         `json:"provider_capture_id,omitempty"`
	Amount                  money.Amount   `json:"amount"`
	Currency                money.Currency `json:"currency"`
	State                   State          `json:"state"`
	ExpiresAt               *time.Time     `json:"expires_at,omitempty"`
	ResponseDeadline        *time.Time     `json:"response_deadline,omitempty"`
	CaptureAttemptedAt      *time.Time     `json:"capture_attempted_at,omitempty"`
	RefundedAmount          money.Amount   `json:"refunded_amount"`
	VoidAttempts            int            `json:"void_attempts"`
	Escalated               bool           `json:"escalated"`
	LastError               string         `json:"last_error,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// CaptureStarted reports whether an accept reached the provider. Only a
// capture may follow.
func (a *Authorization) CaptureStarted() bool {
	return a.CaptureAttemptedAt != nil
}

// Transition describes a compare-and-swap state change of an authorization.
// The store applies it only when the row is in From and, if LeaseToken is
// set, the row's lease matches. Optional fields are written when non-empty.
type Transition struct {
	From                    State
	To                      State
	LeaseToken              string
	ProviderAuthorizationID string
	ProviderCaptureID       string
	ExpiresAt               *time.Time
	ResponseDeadline        *time.Time
	LastError               string
}

// Order is what a rail hands back from CreateOrder.
type Order struct {
	ID           string
	ApprovalURL  string
	ClientSecret string
}

type AuthorizationResult struct {
	AuthorizationID string
	ExpiresAt       time.Time
}

// ProviderStatus is a rail's view of an order or authorization.
type ProviderStatus struct {
	State           State
	AuthorizationID string
	CaptureID       string
	Amount          money.Amount
	ExpiresAt       *time.Time
}

type OpenHoldRequest struct {
	BookingID string
	Amount    money.Amount
	Currency  money.Currency
	Rail      Rail
}

type HoldResult struct {
	AuthorizationID string
	ProviderOrderID string
	ApprovalURL     string
	ClientSecret    string
}

type ApprovalResult struct {
	AuthorizationID  string
	ExpiresAt        time.Time
	ResponseDeadline time.Time
}

// Resolution is the typed outcome of Resolve.
type Resolution struct {
	BookingID       string
	AuthorizationID string
	State           State
	PaymentStatus   PaymentStatus
	// Noop is set when the authorization was already terminal and nothing
	// was sent to the provider.
	Noop bool
}

type RefundResult struct {
	AuthorizationID string
	RefundID        string
	Amount          money.Amount
	RefundedAmount  money.Amount
}

// SettlementEvent is published after a settlement transaction commits.
type SettlementEvent struct {
	BookingID       string         `json:"booking_id"`
	AuthorizationID string         `json:"authorization_id"`
	Rail            Rail           `json:"provider"`
	State           State          `json:"state"`
	PaymentStatus   PaymentStatus  `json:"payment_status"`
	Amount          money.Amount   `json:"amount"`
	Currency        money.Currency `json:"currency"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// WebhookKind is a rail-neutral classification of a provider notification.
type WebhookKind string

const (
	WebhookAuthorized WebhookKind = "authorized"
	WebhookCaptured   WebhookKind = "captured"
	WebhookVoided     WebhookKind = "voided"
	WebhookRefunded   WebhookKind = "refunded"
	WebhookIgnored    WebhookKind = "ignored"
)

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	Rail        Rail
	EventID     string
	EventType   string
	Kind        WebhookKind
	ProviderRef string
	// AuthorizationID and CaptureID are filled when the payload carries them.
	AuthorizationID string
	CaptureID       string
	RefundID        string
	Amount          money.Amount
	// RefundedTotal is the provider's cumulative refunded amount, set on
	// refund notifications that do not name the refund.
	RefundedTotal money.Amount
	Payload         []byte
	ReceivedAt      time.Time
}
