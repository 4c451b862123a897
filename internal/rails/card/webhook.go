package card

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

const SignatureHeader = "Stripe-Signature"

// ParseWebhook verifies a delivery and classifies it.
func (p *Provider) ParseWebhook(payload []byte, signature string) (*payments.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev := &payments.WebhookEvent{
		Rail:       payments.RailCard,
		EventID:    event.ID,
		EventType:  string(event.Type),
		Kind:       payments.WebhookIgnored,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	if event.Data == nil {
		return ev, nil
	}

	switch event.Type {
	case "payment_intent.amount_capturable_updated", "payment_intent.succeeded", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: malformed payment intent: %v", payments.ErrValidation, err)
		}
		ev.ProviderRef = pi.ID
		ev.AuthorizationID = pi.ID
		switch event.Type {
		case "payment_intent.amount_capturable_updated":
			ev.Kind = payments.WebhookAuthorized
			ev.Amount = money.FromMinor(pi.AmountCapturable)
		case "payment_intent.succeeded":
			ev.Kind = payments.WebhookCaptured
			ev.CaptureID = captureID(&pi)
			ev.Amount = money.FromMinor(pi.AmountReceived)
		default:
			ev.Kind = payments.WebhookVoided
		}
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: malformed charge: %v", payments.ErrValidation, err)
		}
		ev.Kind = payments.WebhookRefunded
		ev.CaptureID = ch.ID
		if ch.PaymentIntent != nil {
			ev.ProviderRef = ch.PaymentIntent.ID
		}
		ev.RefundedTotal = money.FromMinor(ch.AmountRefunded)
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
			latest := ch.Refunds.Data[0]
			ev.RefundID = latest.ID
			ev.Amount = money.FromMinor(latest.Amount)
		}
	}
	return ev, nil
}
