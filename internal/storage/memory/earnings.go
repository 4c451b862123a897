package memory

import (
	"context"
	"sort"

	"github.com/harman698/OnGoPool/internal/domain/earnings"
	"github.com/harman698/OnGoPool/internal/money"
)

func copyPayout(p earnings.PayoutRequest) *earnings.PayoutRequest {
	p.EarningIDs = append([]string(nil), p.EarningIDs...)
	return &p
}

func (s *Store) InsertEarning(ctx context.Context, e *earnings.Earning) (*earnings.Earning, bool, error) {
	var stored earnings.Earning
	var created bool
	s.write(ctx, func() {
		if existing, ok := s.earnings[e.BookingID]; ok {
			stored = existing
			return
		}
		s.earnings[e.BookingID] = *e
		stored, created = *e, true
	})
	return &stored, created, nil
}

func (s *Store) GetEarningByBooking(ctx context.Context, bookingID string) (*earnings.Earning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.earnings[bookingID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) ListEarnings(ctx context.Context, driverID string) ([]*earnings.Earning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*earnings.Earning
	for _, e := range s.earnings {
		if e.DriverID == driverID {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EarningDate.After(out[j].EarningDate)
	})
	return out, nil
}

func (s *Store) UpdateEarningStatus(ctx context.Context, bookingID string, from, to earnings.Status) (bool, error) {
	var ok bool
	s.write(ctx, func() {
		e, found := s.earnings[bookingID]
		if !found || e.Status != from {
			return
		}
		e.Status = to
		e.UpdatedAt = s.clk.Now()
		s.earnings[bookingID] = e
		ok = true
	})
	return ok, nil
}

func (s *Store) ClaimAvailableEarnings(ctx context.Context, driverID string, currency money.Currency, payoutID string) ([]*earnings.Earning, error) {
	var claimed []*earnings.Earning
	s.write(ctx, func() {
		now := s.clk.Now()
		for key, e := range s.earnings {
			if e.DriverID != driverID || e.Currency != currency || e.Status != earnings.StatusAvailable {
				continue
			}
			e.Status = earnings.StatusRequested
			e.PayoutRequestID = payoutID
			e.UpdatedAt = now
			s.earnings[key] = e
			e := e
			claimed = append(claimed, &e)
		}
	})
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].EarningDate.Before(claimed[j].EarningDate)
	})
	return claimed, nil
}

func (s *Store) CreatePayoutRequest(ctx context.Context, p *earnings.PayoutRequest) error {
	s.write(ctx, func() {
		s.payouts[p.ID] = *copyPayout(*p)
	})
	return nil
}

func (s *Store) GetPayoutRequest(ctx context.Context, payoutID string) (*earnings.PayoutRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[payoutID]
	if !ok {
		return nil, nil
	}
	return copyPayout(p), nil
}

func (s *Store) UpdatePayoutStatus(ctx context.Context, payoutID string, from, to earnings.PayoutStatus, earningStatus earnings.Status) (bool, error) {
	var ok bool
	s.write(ctx, func() {
		p, found := s.payouts[payoutID]
		if !found || p.Status != from {
			return
		}
		now := s.clk.Now()
		p.Status = to
		p.UpdatedAt = now
		s.payouts[payoutID] = p
		for key, e := range s.earnings {
			if e.PayoutRequestID != payoutID {
				continue
			}
			e.Status = earningStatus
			if earningStatus == earnings.StatusAvailable {
				e.PayoutRequestID = ""
			}
			e.UpdatedAt = now
			s.earnings[key] = e
		}
		ok = true
	})
	return ok, nil
}
