package handlers

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/leadninja/leadninja-api/internal/billing"
)

const maxWebhookBodyBytes = 65536

type BillingHandler struct {
	processor     *billing.Processor
	webhookSecret string
	logger        zerolog.Logger
}

func NewBillingHandler(processor *billing.Processor, webhookSecret string, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		processor:     processor,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// Webhook receives Stripe events. The signature is verified against the raw
// body before anything is parsed, so an invalid signature never touches state.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn().Err(err).Msg("webhook signature verification failed")
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.processor.HandleEvent(r.Context(), event); err != nil {
		h.logger.Error().Err(err).Str("event_type", string(event.Type)).Str("event_id", event.ID).Msg("webhook processing failed")
		http.Error(w, "Event processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
