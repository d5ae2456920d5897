package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Method identifies the payment provider that captured the money.
type Method string

const (
	MethodStripe Method = "stripe"
	MethodSquare Method = "square"
)

// ErrUnsupportedMethod is returned for providers this service does not integrate.
var ErrUnsupportedMethod = errors.New("payments: unsupported payment method")

// ParseMethod normalizes a provider name.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodStripe:
		return MethodStripe, nil
	case MethodSquare:
		return MethodSquare, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
	}
}

// Status is the normalized outcome of a payment.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Confirmation is what a booking records about the payment behind it.
type Confirmation struct {
	Method      Method          `json:"method"`
	ExternalID  string          `json:"external_id"`
	Status      Status          `json:"status"`
	AmountCents int64           `json:"amount_cents"`
	Currency    string          `json:"currency,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
}

// Completed reports whether money was actually captured.
func (c Confirmation) Completed() bool {
	if c.Status != StatusCompleted || strings.TrimSpace(c.ExternalID) == "" {
		return false
	}
	return c.Method == MethodStripe || c.Method == MethodSquare
}

// Failed builds a fail-closed confirmation.
func Failed(method Method, externalID string, raw []byte) Confirmation {
	return Confirmation{
		Method:     method,
		ExternalID: externalID,
		Status:     StatusFailed,
		RawPayload: rawJSON(raw),
	}
}

// StripeStatus maps a PaymentIntent status. Only "succeeded" counts as paid.
func StripeStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded":
		return StatusCompleted
	case "canceled", "cancelled":
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// SquareStatus maps a Square Payment status. Only COMPLETED counts as paid.
func SquareStatus(status string) Status {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return StatusCompleted
	case "CANCELED", "CANCELLED":
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Normalize builds a confirmation from a provider-native status string.
func Normalize(method Method, externalID, providerStatus string, amountCents int64, currency string, raw []byte) Confirmation {
	var status Status
	switch method {
	case MethodStripe:
		status = StripeStatus(providerStatus)
	case MethodSquare:
		status = SquareStatus(providerStatus)
	default:
		status = StatusFailed
	}
	if strings.TrimSpace(externalID) == "" {
		status = StatusFailed
	}
	return Confirmation{
		Method:      method,
		ExternalID:  externalID,
		Status:      status,
		AmountCents: amountCents,
		Currency:    strings.ToLower(currency),
		RawPayload:  rawJSON(raw),
	}
}

func rawJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
