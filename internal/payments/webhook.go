package payments

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

const maxWebhookBody = 1 << 20

// webhookInbox claims a provider delivery and appends its event in one step.
type webhookInbox interface {
	Accept(ctx context.Context, provider, deliveryID, aggregate string, evt events.CanonicalEvent) (duplicate bool, err error)
}

// confirmationRecorder is the part both provider webhooks share once the payload is trusted.
type confirmationRecorder struct {
	inbox   webhookInbox
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

// record admits the provider delivery once and appends a payments.confirmed.v1 event.
// It writes the HTTP response; a 5xx makes the provider retry.
func (c *confirmationRecorder) record(w http.ResponseWriter, r *http.Request, eventID string, conf Confirmation, occurredAt time.Time) {
	provider := string(conf.Method)
	evt := events.PaymentConfirmedV1{
		Provider:        provider,
		ProviderRef:     conf.ExternalID,
		ProviderEventID: eventID,
		Status:          string(conf.Status),
		AmountCents:     conf.AmountCents,
		Currency:        conf.Currency,
		OccurredAt:      occurredAt.UTC(),
	}
	duplicate, err := c.inbox.Accept(r.Context(), provider, eventID, events.PaymentAggregate(provider, conf.ExternalID), evt)
	if err != nil {
		c.logger.Error("failed to record payment webhook", "error", err, "provider", provider, "event_id", eventID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if duplicate {
		c.metrics.ObservePaymentWebhook(provider, "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}
	c.metrics.ObservePaymentWebhook(provider, string(conf.Status))
	c.logger.Info("payment webhook recorded", "provider", provider, "payment_id", conf.ExternalID, "status", conf.Status)
	w.WriteHeader(http.StatusOK)
}

func newRecorder(inbox webhookInbox, m *metrics.BookingMetrics, logger *logging.Logger) confirmationRecorder {
	if logger == nil {
		logger = logging.Default()
	}
	return confirmationRecorder{inbox: inbox, metrics: m, logger: logger}
}
