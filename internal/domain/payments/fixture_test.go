package payments_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/domain/earnings"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
	"github.com/harman698/OnGoPool/internal/storage/memory"
)

var testStart = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type mockProvider struct {
	rail      payments.Rail
	expiresAt time.Time

	mu    sync.Mutex
	calls map[string]int
	keys  []string

	createOrderFunc func(ctx context.Context, amount money.Amount, currency money.Currency, intent payments.Intent) (payments.Order, error)
	authorizeFunc   func(ctx context.Context, orderID string) (payments.AuthorizationResult, error)
	captureFunc     func(ctx context.Context, authID string, amount money.Amount) (string, error)
	voidFunc        func(ctx context.Context, authID string) error
	refundFunc      func(ctx context.Context, captureID string, amount money.Amount) (string, error)
	fetchStatusFunc func(ctx context.Context, ref string) (payments.ProviderStatus, error)
}

func newMockProvider(rail payments.Rail) *mockProvider {
	return &mockProvider{
		rail:      rail,
		expiresAt: testStart.Add(7 * 24 * time.Hour),
		calls:     make(map[string]int),
	}
}

func (m *mockProvider) record(ctx context.Context, op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if key, ok := payments.IdempotencyKeyFrom(ctx); ok {
		m.keys = append(m.keys, key)
	}
	return m.calls[op]
}

func (m *mockProvider) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockProvider) Rail() payments.Rail { return m.rail }

func (m *mockProvider) CreateOrder(ctx context.Context, amount money.Amount, currency money.Currency, intent payments.Intent) (payments.Order, error) {
	n := m.record(ctx, "create")
	if m.createOrderFunc != nil {
		return m.createOrderFunc(ctx, amount, currency, intent)
	}
	id := fmt.Sprintf("%s-order-%d", m.rail, n)
	return payments.Order{ID: id, ApprovalURL: "https://pay.example/approve/" + id}, nil
}

func (m *mockProvider) Authorize(ctx context.Context, orderID string) (payments.AuthorizationResult, error) {
	m.record(ctx, "authorize")
	if m.authorizeFunc != nil {
		return m.authorizeFunc(ctx, orderID)
	}
	return payments.AuthorizationResult{AuthorizationID: "auth-" + orderID, ExpiresAt: m.expiresAt}, nil
}

func (m *mockProvider) Capture(ctx context.Context, authID string, amount money.Amount) (string, error) {
	m.record(ctx, "capture")
	if m.captureFunc != nil {
		return m.captureFunc(ctx, authID, amount)
	}
	return "cap-" + authID, nil
}

func (m *mockProvider) Void(ctx context.Context, authID string) error {
	m.record(ctx, "void")
	if m.voidFunc != nil {
		return m.voidFunc(ctx, authID)
	}
	return nil
}

func (m *mockProvider) Refund(ctx context.Context, captureID string, amount money.Amount) (string, error) {
	n := m.record(ctx, "refund")
	if m.refundFunc != nil {
		return m.refundFunc(ctx, captureID, amount)
	}
	return fmt.Sprintf("ref-%s-%d", captureID, n), nil
}

func (m *mockProvider) FetchStatus(ctx context.Context, ref string) (payments.ProviderStatus, error) {
	m.record(ctx, "fetch")
	if m.fetchStatusFunc != nil {
		return m.fetchStatusFunc(ctx, ref)
	}
	return payments.ProviderStatus{}, payments.ErrProviderUnavailable
}

type recordingNotifier struct {
	mu       sync.Mutex
	released []string
	captured []string
}

func (n *recordingNotifier) NotifyPaymentReleased(ctx context.Context, userID, bookingID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.released = append(n.released, bookingID)
	return nil
}

func (n *recordingNotifier) NotifyPaymentCaptured(ctx context.Context, userID, bookingID string, amount money.Amount, currency money.Currency) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.captured = append(n.captured, bookingID)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []payments.SettlementEvent
}

func (p *recordingPublisher) PublishSettlement(ctx context.Context, ev payments.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	store     *memory.Store
	clock     *clock.Manual
	card      *mockProvider
	wallet    *mockProvider
	holds     *payments.HoldCoordinator
	engine    *payments.SettlementEngine
	ledger    *earnings.Service
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

func newFixture(t *testing.T, opts ...payments.SettlementOption) *fixture {
	t.Helper()
	f := &fixture{
		clock:     clock.NewManual(testStart),
		card:      newMockProvider(payments.RailCard),
		wallet:    newMockProvider(payments.RailWallet),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	f.store = memory.NewStore(f.clock)
	f.ledger = earnings.NewService(f.store, f.clock)
	providers := payments.NewProviders(f.card, f.wallet)
	f.holds = payments.NewHoldCoordinator(f.store, f.store, providers, f.clock, payments.WithResponseWindow(12*time.Hour))

	all := append([]payments.SettlementOption{
		payments.WithServiceFee(1500),
		payments.WithNotifier(f.notifier),
		payments.WithPublisher(f.publisher),
		payments.WithLeaseWait(2*time.Second, 5*time.Millisecond),
	}, opts...)
	f.engine = payments.NewSettlementEngine(f.store, f.store, providers, f.ledger, f.clock, all...)
	return f
}

func (f *fixture) addBooking(id string, amount money.Amount) {
	f.store.PutBooking(payments.Booking{
		ID:          id,
		RideID:      "ride-" + id,
		PassengerID: "passenger-" + id,
		DriverID:    "driver-1",
		Seats:       1,
		Amount:      amount,
		Currency:    "CAD",
	})
}

// authorize opens and confirms a hold and fails the test on any error.
func (f *fixture) authorize(t *testing.T, bookingID string, amount money.Amount, rail payments.Rail) *payments.HoldResult {
	t.Helper()
	hold, err := f.holds.OpenHold(context.Background(), payments.OpenHoldRequest{
		BookingID: bookingID,
		Amount:    amount,
		Currency:  "CAD",
		Rail:      rail,
	})
	if err != nil {
		t.Fatalf("OpenHold() error = %v", err)
	}
	if _, err := f.holds.ConfirmApproval(context.Background(), hold.AuthorizationID, hold.ProviderOrderID); err != nil {
		t.Fatalf("ConfirmApproval() error = %v", err)
	}
	return hold
}

func (f *fixture) booking(t *testing.T, id string) *payments.Booking {
	t.Helper()
	b, err := f.store.GetBooking(context.Background(), id)
	if err != nil || b == nil {
		t.Fatalf("GetBooking(%s) = %v, %v", id, b, err)
	}
	return b
}

func (f *fixture) authorization(t *testing.T, id string) *payments.Authorization {
	t.Helper()
	a, err := f.store.GetAuthorization(context.Background(), id)
	if err != nil || a == nil {
		t.Fatalf("GetAuthorization(%s) = %v, %v", id, a, err)
	}
	return a
}

func (f *fixture) earningsFor(t *testing.T, driverID string) []*earnings.Earning {
	t.Helper()
	list, err := f.store.ListEarnings(context.Background(), driverID)
	if err != nil {
		t.Fatalf("ListEarnings() error = %v", err)
	}
	return list
}
