// Package memory is an in-process implementation of the payment and earnings
// stores. It serializes writers and applies the same compare-and-swap rules
// as the Postgres store, which makes it suitable for tests and local runs.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/domain/earnings"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
)

type authRow struct {
	auth       payments.Authorization
	seq        int64
	leaseToken string
	leaseUntil time.Time
}

type webhookRow struct {
	event        payments.WebhookEvent
	processedAt  *time.Time
	processError string
}

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	clk  clock.Clock
	seq  int64

	bookings map[string]payments.Booking
	auths    map[string]authRow
	refunds  map[string]money.Amount
	webhooks map[string]webhookRow
	earnings map[string]earnings.Earning
	payouts  map[string]earnings.PayoutRequest
}

func NewStore(clk clock.Clock) *Store {
	return &Store{
		clk:      clk,
		bookings: make(map[string]payments.Booking),
		auths:    make(map[string]authRow),
		refunds:  make(map[string]money.Amount),
		webhooks: make(map[string]webhookRow),
		earnings: make(map[string]earnings.Earning),
		payouts:  make(map[string]earnings.PayoutRequest),
	}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// WithTx runs fn with exclusive write access. Changes made by fn are rolled
// back when it returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// write serializes a single statement with running transactions.
func (s *Store) write(ctx context.Context, fn func()) {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

type snapshot struct {
	seq      int64
	bookings map[string]payments.Booking
	auths    map[string]authRow
	refunds  map[string]money.Amount
	webhooks map[string]webhookRow
	earnings map[string]earnings.Earning
	payouts  map[string]earnings.PayoutRequest
}

// Rows are stored by value and pointer fields are always replaced, never
// mutated, so shallow map copies are enough.
func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		seq:      s.seq,
		bookings: maps.Clone(s.bookings),
		auths:    maps.Clone(s.auths),
		refunds:  maps.Clone(s.refunds),
		webhooks: maps.Clone(s.webhooks),
		earnings: maps.Clone(s.earnings),
		payouts:  maps.Clone(s.payouts),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = snap.seq
	s.bookings = snap.bookings
	s.auths = snap.auths
	s.refunds = snap.refunds
	s.webhooks = snap.webhooks
	s.earnings = snap.earnings
	s.payouts = snap.payouts
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}
