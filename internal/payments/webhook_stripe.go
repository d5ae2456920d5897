package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// StripeWebhookHandler records PaymentIntent outcomes delivered by Stripe.
type StripeWebhookHandler struct {
	webhookSecret string
	tolerance     time.Duration
	confirmationRecorder
}

// NewStripeWebhookHandler creates a new handler for Stripe webhooks.
func NewStripeWebhookHandler(
	webhookSecret string,
	inbox webhookInbox,
	m *metrics.BookingMetrics,
	logger *logging.Logger,
) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		webhookSecret:        webhookSecret,
		tolerance:            webhook.DefaultTolerance,
		confirmationRecorder: newRecorder(inbox, m, logger),
	}
}

// Handle processes incoming Stripe webhook events.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if h.webhookSecret == "" {
		h.logger.Error("stripe webhook secret not configured")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	evt, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Warn("stripe signature rejected", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch evt.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		h.logger.Error("failed to decode stripe payment intent", "error", err, "event_id", evt.ID)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if pi.ID == "" {
		http.Error(w, "missing payment intent id", http.StatusBadRequest)
		return
	}

	conf := FromStripePaymentIntent(&pi)
	conf.RawPayload = rawJSON(evt.Data.Raw)
	h.record(w, r, evt.ID, conf, time.Unix(evt.Created, 0))
}
