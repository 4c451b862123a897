package memory

import (
	"context"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
)

// PutBooking inserts or replaces a booking. The booking subsystem owns these
// rows; the store only seeds them for tests and local runs.
func (s *Store) PutBooking(b payments.Booking) {
	if b.PaymentStatus == "" {
		b.PaymentStatus = payments.PaymentNone
	}
	if b.DriverDecision == "" {
		b.DriverDecision = payments.DriverDecisionNone
	}
	b.ResponseDeadline = cloneTime(b.ResponseDeadline)
	s.write(context.Background(), func() {
		s.bookings[b.ID] = b
	})
}

func (s *Store) SetDriverDecision(ctx context.Context, id string, d payments.DriverDecision) error {
	return s.updateBooking(ctx, id, func(b *payments.Booking) {
		b.DriverDecision = d
	})
}

func (s *Store) GetBooking(ctx context.Context, id string) (*payments.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	b.ResponseDeadline = cloneTime(b.ResponseDeadline)
	return &b, nil
}

func (s *Store) SetPaymentStatus(ctx context.Context, id string, status payments.PaymentStatus) error {
	return s.updateBooking(ctx, id, func(b *payments.Booking) {
		b.PaymentStatus = status
	})
}

func (s *Store) SetResponseDeadline(ctx context.Context, id string, ts time.Time) error {
	return s.updateBooking(ctx, id, func(b *payments.Booking) {
		b.ResponseDeadline = timePtr(ts)
	})
}

func (s *Store) SetAuthorizationRef(ctx context.Context, id, authorizationID string) error {
	return s.updateBooking(ctx, id, func(b *payments.Booking) {
		b.AuthorizationID = authorizationID
	})
}

func (s *Store) updateBooking(ctx context.Context, id string, fn func(b *payments.Booking)) error {
	var err error
	s.write(ctx, func() {
		b, ok := s.bookings[id]
		if !ok {
			err = payments.ErrBookingNotFound
			return
		}
		fn(&b)
		s.bookings[id] = b
	})
	return err
}
