package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/riverbend-resort/wallet-api/internal/common"
	"github.com/riverbend-resort/wallet-api/internal/obs"
)

// WebhookHandler receives processor callbacks. Delivery is at-least-once;
// the ledger admission step collapses retries into exactly-once effects.
type WebhookHandler struct {
	Processor Processor
	Ledger    Ledger
	Issuer    *Issuer
	Log       zerolog.Logger
}

// Handle processes POST /webhooks/stripe.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Processor == nil || h.Ledger == nil || h.Issuer == nil {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if err := h.Processor.VerifyWebhook(r.Header.Get("Stripe-Signature"), body); err != nil {
		h.count("unknown", "invalid_signature")
		common.JSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	event, err := h.Processor.ParseEvent(body)
	if err != nil {
		if errors.Is(err, ErrEventIgnored) {
			h.count("ignored", "ignored")
			w.WriteHeader(http.StatusOK)
			return
		}
		h.count("unknown", "invalid_payload")
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "unable to decode event", nil)
		return
	}

	ctx := r.Context()
	admitted, err := h.Ledger.Admit(ctx, event.ID, event.Type, event.Raw)
	if err != nil {
		h.count(event.Type, "ledger_error")
		common.JSONError(w, http.StatusInternalServerError, "LEDGER_ERROR", "unable to record event", nil)
		return
	}
	if !admitted {
		h.count(event.Type, "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	outcome, err := h.Issuer.Apply(ctx, event)
	if err != nil {
		if IsOrphaned(err) {
			// acknowledged so the processor stops retrying; the ledger row
			// stays unprocessed for the reconciliation sweep
			h.count(event.Type, string(outcome))
			w.WriteHeader(http.StatusOK)
			return
		}
		h.count(event.Type, "error")
		h.Log.Error().Err(err).Str("event_id", event.ID).Str("type", event.Type).
			Msg("webhook apply failed")
		common.JSONError(w, http.StatusInternalServerError, "APPLY_ERROR", "event processing failed", nil)
		return
	}

	if err := h.Ledger.MarkProcessed(ctx, event.ID); err != nil {
		// the effect is applied; a retry will be absorbed by Admit
		h.Log.Warn().Err(err).Str("event_id", event.ID).Msg("mark processed failed")
	}
	h.count(event.Type, string(outcome))
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) count(eventType, result string) {
	if obs.WalletWebhookTotal != nil {
		obs.WalletWebhookTotal.WithLabelValues(eventType, result).Inc()
	}
}
