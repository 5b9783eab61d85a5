package handlers

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/leadninja/leadninja-api/internal/billing"
)

const testWebhookSecret = "whsec_test_secret"

func signedWebhookRequest(payload string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", strings.NewReader(payload))
	now := time.Now()
	sig := webhook.ComputeSignature(now, []byte(payload), testWebhookSecret)
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig)))
	return req
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := NewBillingHandler(nil, testWebhookSecret, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", strings.NewReader(`{"type":"invoice.paid"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h := NewBillingHandler(nil, testWebhookSecret, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAcceptsValidSignature(t *testing.T) {
	// An event type the processor ignores keeps this a pure signature test.
	processor := billing.NewProcessor(nil, nil, zerolog.Nop())
	h := NewBillingHandler(processor, testWebhookSecret, zerolog.Nop())

	payload := fmt.Sprintf(`{"id":"evt_1","api_version":%q,"type":"payment_intent.created","data":{"object":{}}}`, stripe.APIVersion)
	rec := httptest.NewRecorder()
	h.Webhook(rec, signedWebhookRequest(payload))
	assert.Equal(t, http.StatusOK, rec.Code)
}
