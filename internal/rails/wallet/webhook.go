package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Transmission headers the wallet sends with each delivery.
const (
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
)

// ParseWebhook verifies a delivery against the verification endpoint and
// classifies it.
func (c *Client) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*payments.WebhookEvent, error) {
	if header.Get(HeaderTransmissionSig) == "" || header.Get(HeaderTransmissionID) == "" {
		return nil, fmt.Errorf("%w: missing transmission headers", ErrInvalidSignature)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not json", payments.ErrValidation)
	}

	verify := VerifySignatureRequest{
		AuthAlgo:         header.Get(HeaderAuthAlgo),
		CertURL:          header.Get(HeaderCertURL),
		TransmissionID:   header.Get(HeaderTransmissionID),
		TransmissionSig:  header.Get(HeaderTransmissionSig),
		TransmissionTime: header.Get(HeaderTransmissionTime),
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(payload),
	}
	var result VerifySignatureResponse
	if err := c.do(ctx, "verify webhook", http.MethodPost, "/v1/notifications/verify-webhook-signature", verify, &result); err != nil {
		return nil, err
	}
	if result.VerificationStatus != "SUCCESS" {
		return nil, fmt.Errorf("%w: verification %s", ErrInvalidSignature, result.VerificationStatus)
	}

	var raw WebhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed event: %v", payments.ErrValidation, err)
	}
	return classifyEvent(&raw, payload)
}

func classifyEvent(raw *WebhookEvent, payload []byte) (*payments.WebhookEvent, error) {
	ev := &payments.WebhookEvent{
		Rail:       payments.RailWallet,
		EventID:    raw.ID,
		EventType:  raw.EventType,
		Kind:       payments.WebhookIgnored,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}

	switch raw.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		var order Order
		if err := json.Unmarshal(raw.Resource, &order); err != nil {
			return nil, fmt.Errorf("%w: malformed order: %v", payments.ErrValidation, err)
		}
		ev.Kind = payments.WebhookAuthorized
		ev.ProviderRef = order.ID
	case "PAYMENT.AUTHORIZATION.CREATED", "PAYMENT.AUTHORIZATION.VOIDED":
		var auth Authorization
		if err := json.Unmarshal(raw.Resource, &auth); err != nil {
			return nil, fmt.Errorf("%w: malformed authorization: %v", payments.ErrValidation, err)
		}
		ev.Kind = payments.WebhookAuthorized
		if raw.EventType == "PAYMENT.AUTHORIZATION.VOIDED" {
			ev.Kind = payments.WebhookVoided
		}
		ev.AuthorizationID = auth.ID
		ev.Amount = fromMoney(auth.Amount)
		if auth.SupplementaryData != nil {
			ev.ProviderRef = auth.SupplementaryData.RelatedIDs.OrderID
		}
	case "PAYMENT.CAPTURE.COMPLETED":
		var capture Capture
		if err := json.Unmarshal(raw.Resource, &capture); err != nil {
			return nil, fmt.Errorf("%w: malformed capture: %v", payments.ErrValidation, err)
		}
		ev.Kind = payments.WebhookCaptured
		ev.CaptureID = capture.ID
		ev.Amount = fromMoney(capture.Amount)
		if capture.SupplementaryData != nil {
			ev.AuthorizationID = capture.SupplementaryData.RelatedIDs.AuthorizationID
			ev.ProviderRef = capture.SupplementaryData.RelatedIDs.OrderID
		}
	case "PAYMENT.CAPTURE.REFUNDED":
		var refund Refund
		if err := json.Unmarshal(raw.Resource, &refund); err != nil {
			return nil, fmt.Errorf("%w: malformed refund: %v", payments.ErrValidation, err)
		}
		ev.Kind = payments.WebhookRefunded
		ev.RefundID = refund.ID
		ev.Amount = fromMoney(refund.Amount)
		for _, l := range refund.Links {
			if l.Rel == "up" {
				ev.CaptureID = l.Href[strings.LastIndex(l.Href, "/")+1:]
			}
		}
	}
	return ev, nil
}
