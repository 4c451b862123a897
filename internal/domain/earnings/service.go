package earnings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/money"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidCapture      = errors.New("invalid capture for earning")
	ErrEarningNotFound     = errors.New("earning not found")
	ErrEarningNotPending   = errors.New("earning not pending")
	ErrNoAvailableEarnings = errors.New("no available earnings")
	ErrDestinationRequired = errors.New("payout destination required")
	ErrPayoutNotFound      = errors.New("payout request not found")
	ErrInvalidPayoutStatus = errors.New("invalid payout status transition")
)

var ledgerLogger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "earnings").Logger()

// CaptureInput carries what the ledger needs from a successful capture.
type CaptureInput struct {
	BookingID       string
	AuthorizationID string
	DriverID        string
	Gross           money.Amount
	Currency        money.Currency
	FeeRate         money.Rate
}

type ServiceInterface interface {
	RecordCapture(ctx context.Context, in CaptureInput) (*Earning, error)
	MarkAvailable(ctx context.Context, bookingID string) (*Earning, error)
	ListEarnings(ctx context.Context, driverID string) ([]*Earning, *Summary, error)
	RequestPayout(ctx context.Context, driverID string, currency money.Currency, destination string) (*PayoutRequest, error)
	AdvancePayout(ctx context.Context, payoutID string, to PayoutStatus) (*PayoutRequest, error)
}

type Service struct {
	repo  Repository
	clock clock.Clock
}

func NewService(repo Repository, clk clock.Clock) *Service {
	return &Service{repo: repo, clock: clk}
}

// RecordCapture splits the gross into service fee and driver net and stores
// a pending earning. A second call for the same booking returns the first
// earning unchanged, so replayed capture notifications are harmless.
func (s *Service) RecordCapture(ctx context.Context, in CaptureInput) (*Earning, error) {
	if in.BookingID == "" || in.DriverID == "" {
		return nil, fmt.Errorf("%w: booking and driver are required", ErrInvalidCapture)
	}
	if !in.Gross.IsPositive() {
		return nil, fmt.Errorf("%w: gross must be positive", ErrInvalidCapture)
	}
	if in.FeeRate < 0 || in.FeeRate > 10000 {
		return nil, fmt.Errorf("%w: fee rate %d out of range", ErrInvalidCapture, in.FeeRate)
	}

	fee, net := money.Split(in.Gross, in.FeeRate)
	now := s.clock.Now()
	e := &Earning{
		ID:              uuid.New().String(),
		BookingID:       in.BookingID,
		AuthorizationID: in.AuthorizationID,
		DriverID:        in.DriverID,
		Gross:           in.Gross,
		FeeRate:         in.FeeRate,
		ServiceFee:      fee,
		Net:             net,
		Currency:        in.Currency,
		Status:          StatusPending,
		EarningDate:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stored, created, err := s.repo.InsertEarning(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("failed to insert earning: %w", err)
	}

	if created {
		ledgerLogger.Info().
			Str("event", "earning_recorded").
			Str("booking_id", stored.BookingID).
			Str("driver_id", stored.DriverID).
			Str("gross", stored.Gross.String()).
			Str("service_fee", stored.ServiceFee.String()).
			Str("net", stored.Net.String()).
			Msg("Earning recorded for capture")
	} else {
		ledgerLogger.Info().
			Str("event", "earning_duplicate").
			Str("booking_id", stored.BookingID).
			Msg("Earning already recorded, returning existing")
	}
	return stored, nil
}

// MarkAvailable promotes a pending earning once the ride is complete.
func (s *Service) MarkAvailable(ctx context.Context, bookingID string) (*Earning, error) {
	changed, err := s.repo.UpdateEarningStatus(ctx, bookingID, StatusPending, StatusAvailable)
	if err != nil {
		return nil, fmt.Errorf("failed to update earning: %w", err)
	}
	e, err := s.repo.GetEarningByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get earning: %w", err)
	}
	if e == nil {
		return nil, ErrEarningNotFound
	}
	if !changed && e.Status != StatusAvailable {
		return e, ErrEarningNotPending
	}
	return e, nil
}

func (s *Service) ListEarnings(ctx context.Context, driverID string) ([]*Earning, *Summary, error) {
	list, err := s.repo.ListEarnings(ctx, driverID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list earnings: %w", err)
	}
	return list, Summarize(driverID, list), nil
}

// Summarize totals net amounts per status.
func Summarize(driverID string, list []*Earning) *Summary {
	sum := &Summary{DriverID: driverID, Totals: make(map[Status]money.Amount)}
	for _, e := range list {
		if sum.Currency == "" {
			sum.Currency = e.Currency
		}
		sum.Totals[e.Status] += e.Net
	}
	return sum
}

// RequestPayout debits every available earning of the driver into a new
// payout request. Claiming the earnings and inserting the request happen in
// one transaction; an earning can only ever be claimed once.
func (s *Service) RequestPayout(ctx context.Context, driverID string, currency money.Currency, destination string) (*PayoutRequest, error) {
	if strings.TrimSpace(destination) == "" {
		return nil, ErrDestinationRequired
	}
	now := s.clock.Now()
	payout := &PayoutRequest{
		ID:          uuid.New().String(),
		DriverID:    driverID,
		Currency:    currency,
		Destination: destination,
		Status:      PayoutRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		claimed, err := s.repo.ClaimAvailableEarnings(txCtx, driverID, currency, payout.ID)
		if err != nil {
			return fmt.Errorf("failed to claim earnings: %w", err)
		}
		if len(claimed) == 0 {
			return ErrNoAvailableEarnings
		}
		for _, e := range claimed {
			payout.Amount += e.Net
			payout.EarningIDs = append(payout.EarningIDs, e.ID)
		}
		return s.repo.CreatePayoutRequest(txCtx, payout)
	})
	if err != nil {
		return nil, err
	}

	ledgerLogger.Info().
		Str("event", "payout_requested").
		Str("payout_id", payout.ID).
		Str("driver_id", driverID).
		Str("amount", payout.Amount.String()).
		Int("earnings", len(payout.EarningIDs)).
		Msg("Payout requested")
	return payout, nil
}

var payoutTransitions = map[PayoutStatus]struct {
	from    PayoutStatus
	earning Status
}{
	PayoutProcessing: {from: PayoutRequested, earning: StatusProcessing},
	PayoutPaid:       {from: PayoutProcessing, earning: StatusPaid},
}

// AdvancePayout is driven by the payout processor. A failed payout returns
// its earnings to available.
func (s *Service) AdvancePayout(ctx context.Context, payoutID string, to PayoutStatus) (*PayoutRequest, error) {
	p, err := s.repo.GetPayoutRequest(ctx, payoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	if p == nil {
		return nil, ErrPayoutNotFound
	}
	if p.Status == to {
		return p, nil
	}

	var from PayoutStatus
	var earningStatus Status
	switch to {
	case PayoutFailed:
		if p.Status != PayoutRequested && p.Status != PayoutProcessing {
			return p, ErrInvalidPayoutStatus
		}
		from, earningStatus = p.Status, StatusAvailable
	default:
		t, ok := payoutTransitions[to]
		if !ok || t.from != p.Status {
			return p, ErrInvalidPayoutStatus
		}
		from, earningStatus = t.from, t.earning
	}

	var changed bool
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		changed, err = s.repo.UpdatePayoutStatus(txCtx, payoutID, from, to, earningStatus)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update payout: %w", err)
	}
	if !changed {
		return p, ErrInvalidPayoutStatus
	}

	p.Status = to
	p.UpdatedAt = s.clock.Now()
	ledgerLogger.Info().
		Str("event", "payout_advanced").
		Str("payout_id", payoutID).
		Str("status", string(to)).
		Time("at", p.UpdatedAt).
		Msg("Payout status advanced")
	return p, nil
}
