package earnings

import (
	"context"
	"time"

	"github.com/harman698/OnGoPool/internal/money"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAvailable  Status = "available"
	StatusRequested  Status = "requested"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
)

type PayoutStatus string

const (
	PayoutRequested  PayoutStatus = "requested"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
)

// Earning is the driver's share of one captured authorization.
type Earning struct {
	ID              string         `json:"id"`
	BookingID       string         `json:"booking_id"`
	AuthorizationID string         `json:"authorization_id"`
	DriverID        string         `json:"driver_id"`
	Gross           money.Amount   `json:"gross_amount"`
	FeeRate         money.Rate     `json:"fee_rate_bps"`
	ServiceFee      money.Amount   `json:"service_fee_amount"`
	Net             money.Amount   `json:"net_amount"`
	Currency        money.Currency `json:"currency"`
	Status          Status         `json:"status"`
	PayoutRequestID string         `json:"payout_request_id,omitempty"`
	EarningDate     time.Time      `json:"earning_date"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type PayoutRequest struct {
	ID          string         `json:"id"`
	DriverID    string         `json:"driver_id"`
	Amount      money.Amount   `json:"amount"`
	Currency    money.Currency `json:"currency"`
	Destination string         `json:"destination"`
	Status      PayoutStatus   `json:"status"`
	EarningIDs  []string       `json:"earning_ids"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Summary totals a driver's net earnings per status.
type Summary struct {
	DriverID string                  `json:"driver_id"`
	Currency money.Currency          `json:"currency"`
	Totals   map[Status]money.Amount `json:"totals"`
}

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// InsertEarning inserts e unless an earning for the booking already
	// exists. It returns the stored row and whether it was created.
	InsertEarning(ctx context.Context, e *Earning) (*Earning, bool, error)

	GetEarningByBooking(ctx context.Context, bookingID string) (*Earning, error)

	ListEarnings(ctx context.Context, driverID string) ([]*Earning, error)

	// UpdateEarningStatus moves the booking's earning from one status to
	// another and reports whether a row changed.
	UpdateEarningStatus(ctx context.Context, bookingID string, from, to Status) (bool, error)

	// ClaimAvailableEarnings moves every available earning of the driver in
	// the given currency to requested, tagging it with payoutID.
	ClaimAvailableEarnings(ctx context.Context, driverID string, currency money.Currency, payoutID string) ([]*Earning, error)

	CreatePayoutRequest(ctx context.Context, p *PayoutRequest) error

	GetPayoutRequest(ctx context.Context, payoutID string) (*PayoutRequest, error)

	// UpdatePayoutStatus moves the payout and its earnings together.
	UpdatePayoutStatus(ctx context.Context, payoutID string, from, to PayoutStatus, earningStatus Status) (bool, error)
}
