package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/jackc/pgx/v5"
)

// BookingRepository gives the payment core its narrow view of the bookings
// table. Writes join the caller's transaction.
type BookingRepository struct {
	db *DB
}

func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) GetBooking(ctx context.Context, id string) (*payments.Booking, error) {
	query := `
		SELECT
			id, ride_id, passenger_id, driver_id, seats, amount, currency,
			payment_status, response_deadline, driver_decision, payment_authorization_id
		FROM bookings
		WHERE id = $1
	`

	var b payments.Booking
	var authID *string
	err := r.db.queryRow(ctx, query, id).Scan(
		&b.ID,
		&b.RideID,
		&b.PassengerID,
		&b.DriverID,
		&b.Seats,
		&b.Amount,
		&b.Currency,
		&b.PaymentStatus,
		&b.ResponseDeadline,
		&b.DriverDecision,
		&authID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	b.AuthorizationID = derefString(authID)
	return &b, nil
}

func (r *BookingRepository) update(ctx context.Context, id, set string, arg any) error {
	query := `UPDATE bookings SET ` + set + ` = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.exec(ctx, query, id, arg)
	if err != nil {
		return fmt.Errorf("failed to update booking %s: %w", set, err)
	}
	if tag.RowsAffected() == 0 {
		return payments.ErrBookingNotFound
	}
	return nil
}

func (r *BookingRepository) SetPaymentStatus(ctx context.Context, id string, status payments.PaymentStatus) error {
	return r.update(ctx, id, "payment_status", string(status))
}

func (r *BookingRepository) SetResponseDeadline(ctx context.Context, id string, ts time.Time) error {
	return r.update(ctx, id, "response_deadline", ts)
}

func (r *BookingRepository) SetAuthorizationRef(ctx context.Context, id, authorizationID string) error {
	return r.update(ctx, id, "payment_authorization_id", nullString(authorizationID))
}
