package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var squareTracer = otel.Tracer("medspa.internal.payments.square")

const (
	squareProductionURL = "https://connect.squareup.com"
	squareAPIVersion    = "2024-10-17"
)

// SquareVerifier reads payments from the Square Payments API.
type SquareVerifier struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

func NewSquareVerifier(accessToken string) *SquareVerifier {
	return &SquareVerifier{
		accessToken: accessToken,
		baseURL:     squareProductionURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL overrides the Square API host (e.g., sandbox).
func (v *SquareVerifier) WithBaseURL(baseURL string) *SquareVerifier {
	if baseURL == "" {
		return v
	}
	v.baseURL = strings.TrimRight(baseURL, "/")
	return v
}

// WithHTTPClient swaps the transport, e.g. for otelhttp instrumentation.
func (v *SquareVerifier) WithHTTPClient(client *http.Client) *SquareVerifier {
	if client != nil {
		v.httpClient = client
	}
	return v
}

type squarePayment struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	OrderID     string      `json:"order_id,omitempty"`
	AmountMoney squareMoney `json:"amount_money"`
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squarePaymentResponse struct {
	Payment *squarePayment `json:"payment"`
	Errors  []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
	} `json:"errors"`
}

func (v *SquareVerifier) Confirm(ctx context.Context, method Method, externalID string) (Confirmation, error) {
	if method != MethodSquare {
		return Failed(method, externalID, nil), fmt.Errorf("%w: square verifier got %q", ErrUnsupportedMethod, method)
	}
	if strings.TrimSpace(externalID) == "" {
		return Failed(method, externalID, nil), fmt.Errorf("payments: square payment id required")
	}
	if v.accessToken == "" {
		return Failed(method, externalID, nil), fmt.Errorf("payments: no square credentials configured")
	}

	ctx, span := squareTracer.Start(ctx, "square.get_payment")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.payment_id", externalID))

	apiURL := v.baseURL + "/v2/payments/" + url.PathEscape(externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return Failed(method, externalID, nil), fmt.Errorf("payments: square request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.accessToken)
	req.Header.Set("Square-Version", squareAPIVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return Failed(method, externalID, nil), fmt.Errorf("payments: square get payment: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Failed(method, externalID, nil), fmt.Errorf("payments: square read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Failed(method, externalID, body), fmt.Errorf("payments: square get payment status %d", resp.StatusCode)
	}

	var decoded squarePaymentResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Failed(method, externalID, body), fmt.Errorf("payments: square decode: %w", err)
	}
	if decoded.Payment == nil {
		return Failed(method, externalID, body), fmt.Errorf("payments: square response missing payment")
	}
	if decoded.Payment.ID != externalID {
		return Failed(method, externalID, body), fmt.Errorf("payments: square returned payment %s for %s", decoded.Payment.ID, externalID)
	}

	conf := fromSquarePayment(*decoded.Payment, body)
	span.SetAttributes(attribute.String("medspa.payment_status", string(conf.Status)))
	return conf, nil
}

// fromSquarePayment normalizes a Square payment object.
func fromSquarePayment(p squarePayment, raw []byte) Confirmation {
	return Normalize(MethodSquare, p.ID, p.Status, p.AmountMoney.Amount, p.AmountMoney.Currency, raw)
}

var _ Verifier = (*SquareVerifier)(nil)
