package payments

import (
	"context"
	"fmt"

	"github.com/harman698/OnGoPool/internal/money"
)

// Provider is the capability every rail implements. The coordinator and the
// settlement engine only ever see this interface.
type Provider interface {
	Rail() Rail
	CreateOrder(ctx context.Context, amount money.Amount, currency money.Currency, intent Intent) (Order, error)
	// Authorize is valid only after the payer approved the order out of band.
	Authorize(ctx context.Context, providerOrderID string) (AuthorizationResult, error)
	// Capture with a zero amount captures the full authorized amount.
	Capture(ctx context.Context, authorizationID string, amount money.Amount) (string, error)
	Void(ctx context.Context, authorizationID string) error
	// Refund with a zero amount refunds the full capture.
	Refund(ctx context.Context, captureID string, amount money.Amount) (string, error)
	FetchStatus(ctx context.Context, providerRef string) (ProviderStatus, error)
}

// Providers is the closed set of configured rails.
type Providers map[Rail]Provider

func NewProviders(ps ...Provider) Providers {
	out := make(Providers, len(ps))
	for _, p := range ps {
		out[p.Rail()] = p
	}
	return out
}

func (p Providers) Get(rail Rail) (Provider, error) {
	if !rail.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRail, rail)
	}
	provider, ok := p[rail]
	if !ok {
		return nil, fmt.Errorf("%w: %q not configured", ErrUnknownRail, rail)
	}
	return provider, nil
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey attaches the key rails send with mutating calls.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

func IdempotencyKeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyCtx{}).(string)
	return key, ok && key != ""
}
