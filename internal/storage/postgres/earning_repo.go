package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/harman698/OnGoPool/internal/domain/earnings"
	"github.com/harman698/OnGoPool/internal/money"
	"github.com/jackc/pgx/v5"
)

// EarningRepository implements earnings.Repository using PostgreSQL
type EarningRepository struct {
	db *DB
}

func NewEarningRepository(db *DB) *EarningRepository {
	return &EarningRepository{db: db}
}

const earningColumns = `
	id, booking_id, authorization_id, driver_id, gross_amount, fee_rate_bps,
	service_fee_amount, net_amount, currency, status, payout_request_id,
	earning_date, created_at, updated_at`

func scanEarning(row pgx.Row) (*earnings.Earning, error) {
	var e earnings.Earning
	var payoutID *string
	err := row.Scan(
		&e.ID, &e.BookingID, &e.AuthorizationID, &e.DriverID, &e.Gross, &e.FeeRate,
		&e.ServiceFee, &e.Net, &e.Currency, &e.Status, &payoutID,
		&e.EarningDate, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.PayoutRequestID = derefString(payoutID)
	return &e, nil
}

func (r *EarningRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithTx(ctx, fn)
}

// InsertEarning relies on the unique booking_id: a conflicting insert returns
// the earning already stored.
func (r *EarningRepository) InsertEarning(ctx context.Context, e *earnings.Earning) (*earnings.Earning, bool, error) {
	query := `
		INSERT INTO earnings (
			id, booking_id, authorization_id, driver_id, gross_amount, fee_rate_bps,
			service_fee_amount, net_amount, currency, status, earning_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (booking_id) DO NOTHING
		RETURNING ` + earningColumns

	stored, err := scanEarning(r.db.queryRow(ctx, query,
		e.ID,
		e.BookingID,
		e.AuthorizationID,
		e.DriverID,
		e.Gross.Minor(),
		int64(e.FeeRate),
		e.ServiceFee.Minor(),
		e.Net.Minor(),
		string(e.Currency),
		string(e.Status),
		e.EarningDate,
		e.CreatedAt,
		e.UpdatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert earning: %w", err)
	}

	existing, err := r.GetEarningByBooking(ctx, e.BookingID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("earning for booking %s vanished after conflict", e.BookingID)
	}
	return existing, false, nil
}

func (r *EarningRepository) GetEarningByBooking(ctx context.Context, bookingID string) (*earnings.Earning, error) {
	query := `SELECT ` + earningColumns + ` FROM earnings WHERE booking_id = $1`
	e, err := scanEarning(r.db.queryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get earning: %w", err)
	}
	return e, nil
}

func (r *EarningRepository) listEarnings(ctx context.Context, query string, args ...any) ([]*earnings.Earning, error) {
	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query earnings: %w", err)
	}
	defer rows.Close()

	var out []*earnings.Earning
	for rows.Next() {
		e, err := scanEarning(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan earning: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating earnings: %w", err)
	}
	return out, nil
}

func (r *EarningRepository) ListEarnings(ctx context.Context, driverID string) ([]*earnings.Earning, error) {
	query := `SELECT ` + earningColumns + ` FROM earnings WHERE driver_id = $1 ORDER BY earning_date DESC`
	return r.listEarnings(ctx, query, driverID)
}

func (r *EarningRepository) UpdateEarningStatus(ctx context.Context, bookingID string, from, to earnings.Status) (bool, error) {
	query := `UPDATE earnings SET status = $3, updated_at = NOW() WHERE booking_id = $1 AND status = $2`
	tag, err := r.db.exec(ctx, query, bookingID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("failed to update earning status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EarningRepository) ClaimAvailableEarnings(ctx context.Context, driverID string, currency money.Currency, payoutID string) ([]*earnings.Earning, error) {
	query := `
		UPDATE earnings
		SET status = 'requested', payout_request_id = $3, updated_at = NOW()
		WHERE driver_id = $1 AND currency = $2 AND status = 'available'
		RETURNING ` + earningColumns
	return r.listEarnings(ctx, query, driverID, string(currency), payoutID)
}

func (r *EarningRepository) CreatePayoutRequest(ctx context.Context, p *earnings.PayoutRequest) error {
	query := `
		INSERT INTO payout_requests (id, driver_id, amount, currency, destination, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.exec(ctx, query,
		p.ID,
		p.DriverID,
		p.Amount.Minor(),
		string(p.Currency),
		p.Destination,
		string(p.Status),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payout request: %w", err)
	}
	return nil
}

func (r *EarningRepository) GetPayoutRequest(ctx context.Context, payoutID string) (*earnings.PayoutRequest, error) {
	query := `
		SELECT id, driver_id, amount, currency, destination, status, created_at, updated_at
		FROM payout_requests
		WHERE id = $1
	`
	var p earnings.PayoutRequest
	err := r.db.queryRow(ctx, query, payoutID).Scan(
		&p.ID, &p.DriverID, &p.Amount, &p.Currency, &p.Destination, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payout request: %w", err)
	}

	rows, err := r.db.query(ctx, `SELECT id FROM earnings WHERE payout_request_id = $1 ORDER BY earning_date`, payoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payout earnings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan payout earning: %w", err)
		}
		p.EarningIDs = append(p.EarningIDs, id)
	}
	return &p, rows.Err()
}

// UpdatePayoutStatus moves the payout and its earnings in one transaction.
// Earnings returned to available are detached from the payout.
func (r *EarningRepository) UpdatePayoutStatus(ctx context.Context, payoutID string, from, to earnings.PayoutStatus, earningStatus earnings.Status) (bool, error) {
	var changed bool
	err := r.db.WithTx(ctx, func(txCtx context.Context) error {
		tag, err := r.db.exec(txCtx,
			`UPDATE payout_requests SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
			payoutID, string(from), string(to))
		if err != nil {
			return fmt.Errorf("failed to update payout request: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = r.db.exec(txCtx, `
			UPDATE earnings
			SET status = $2,
				payout_request_id = CASE WHEN $2 = 'available' THEN NULL ELSE payout_request_id END,
				updated_at = NOW()
			WHERE payout_request_id = $1
		`, payoutID, string(earningStatus))
		if err != nil {
			return fmt.Errorf("failed to update payout earnings: %w", err)
		}
		changed = true
		return nil
	})
	return changed, err
}
