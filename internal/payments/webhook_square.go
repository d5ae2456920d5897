package payments

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// SquareWebhookHandler records payment.created / payment.updated notifications from Square.
type SquareWebhookHandler struct {
	signatureKey    string
	notificationURL string
	confirmationRecorder
}

// NewSquareWebhookHandler builds the handler. notificationURL must match the URL registered
// with Square; when empty it is rebuilt from the request.
func NewSquareWebhookHandler(sigKey, notificationURL string, inbox webhookInbox, m *metrics.BookingMetrics, logger *logging.Logger) *SquareWebhookHandler {
	return &SquareWebhookHandler{
		signatureKey:         sigKey,
		notificationURL:      strings.TrimSpace(notificationURL),
		confirmationRecorder: newRecorder(inbox, m, logger),
	}
}

func (h *SquareWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	url := h.notificationURL
	if url == "" {
		url = buildAbsoluteURL(r)
	}
	if !verifySquareRequest(h.signatureKey, url, payload, r.Header) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var evt squarePaymentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode square event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(evt.Type, "payment.") {
		w.WriteHeader(http.StatusOK)
		return
	}

	eventID := evt.EventID
	if eventID == "" {
		eventID = evt.ID
	}
	payment := evt.Data.Object.Payment
	if eventID == "" || payment.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}
	// Intermediate states (APPROVED, PENDING) are followed by another notification.
	switch strings.ToUpper(payment.Status) {
	case "COMPLETED", "FAILED", "CANCELED":
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	rawPayment, _ := json.Marshal(payment)
	conf := fromSquarePayment(payment, rawPayment)
	occurredAt := evt.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	h.record(w, r, eventID, conf, occurredAt)
}

// verifySquareRequest checks the HMAC-SHA256 header, falling back to the legacy SHA1 header.
func verifySquareRequest(key, url string, body []byte, header http.Header) bool {
	if sig := header.Get("X-Square-Hmacsha256-Signature"); sig != "" {
		return verifySquareSignature(sha256.New, key, url, body, sig)
	}
	return verifySquareSignature(sha1.New, key, url, body, header.Get("X-Square-Signature"))
}

func verifySquareSignature(h func() hash.Hash, key, url string, body []byte, signature string) bool {
	if key == "" || signature == "" {
		return false
	}
	mac := hmac.New(h, []byte(key))
	mac.Write([]byte(url))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

type squarePaymentEvent struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
	Type      string    `json:"type"`
	Data      struct {
		Object struct {
			Payment squarePayment `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
