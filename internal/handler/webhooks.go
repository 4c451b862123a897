package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/harman698/OnGoPool/api"
	"github.com/harman698/OnGoPool/internal/domain/payments"
)

const maxWebhookBody = 1 << 20

type CardWebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payments.WebhookEvent, error)
}

type WalletWebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*payments.WebhookEvent, error)
}

// WebhooksHandler verifies provider notifications and hands them to the
// reconciler. A delivery is acknowledged once it is durably recorded, even
// if applying it failed.
type WebhooksHandler struct {
	reconciler      payments.WebhookServiceInterface
	card            CardWebhookParser
	wallet          WalletWebhookParser
	signatureHeader string
}

func NewWebhooksHandler(reconciler payments.WebhookServiceInterface, card CardWebhookParser, cardSignatureHeader string, wallet WalletWebhookParser) *WebhooksHandler {
	return &WebhooksHandler{
		reconciler:      reconciler,
		card:            card,
		wallet:          wallet,
		signatureHeader: cardSignatureHeader,
	}
}

// PostWebhooksCard handles POST /webhooks/card
func (h *WebhooksHandler) PostWebhooksCard(w http.ResponseWriter, r *http.Request) {
	if h.card == nil {
		http.Error(w, "Card rail not configured", http.StatusNotFound)
		return
	}
	payload, ok := readWebhookBody(w, r)
	if !ok {
		return
	}

	ev, err := h.card.ParseWebhook(payload, r.Header.Get(h.signatureHeader))
	if err != nil {
		handlerLogger.Warn().Str("event", "webhook_rejected").Str("provider", "card").Err(err).Msg("Card webhook rejected")
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}
	h.handle(w, r, ev)
}

// PostWebhooksWallet handles POST /webhooks/wallet
func (h *WebhooksHandler) PostWebhooksWallet(w http.ResponseWriter, r *http.Request) {
	if h.wallet == nil {
		http.Error(w, "Wallet rail not configured", http.StatusNotFound)
		return
	}
	payload, ok := readWebhookBody(w, r)
	if !ok {
		return
	}

	ev, err := h.wallet.ParseWebhook(r.Context(), payload, r.Header)
	if err != nil {
		if errors.Is(err, payments.ErrProviderUnavailable) {
			// Verification could not run; the provider will redeliver.
			handlerLogger.Warn().Str("event", "webhook_unverified").Str("provider", "wallet").Err(err).Msg("Wallet webhook verification unavailable")
			http.Error(w, "Verification unavailable", http.StatusServiceUnavailable)
			return
		}
		handlerLogger.Warn().Str("event", "webhook_rejected").Str("provider", "wallet").Err(err).Msg("Wallet webhook rejected")
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}
	h.handle(w, r, ev)
}

func (h *WebhooksHandler) handle(w http.ResponseWriter, r *http.Request, ev *payments.WebhookEvent) {
	created, err := h.reconciler.HandleEvent(r.Context(), ev)
	if err != nil {
		if errors.Is(err, payments.ErrValidation) {
			http.Error(w, "Invalid webhook", http.StatusBadRequest)
			return
		}
		handlerLogger.Error().
			Str("event", "webhook_unrecorded").
			Str("provider", string(ev.Rail)).
			Str("event_id", ev.EventID).
			Err(err).
			Msg("Failed to record webhook")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, api.WebhookAck{Received: true, Duplicate: !created})
}

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}
