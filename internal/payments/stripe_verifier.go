package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var stripeTracer = otel.Tracer("medspa.internal.payments.stripe")

// StripeVerifier looks up PaymentIntents with the Stripe API.
type StripeVerifier struct {
	intents *paymentintent.Client
}

// NewStripeVerifier builds a verifier on the default Stripe backend.
func NewStripeVerifier(secretKey string) *StripeVerifier {
	return NewStripeVerifierWithBackend(secretKey, stripe.GetBackend(stripe.APIBackend))
}

// NewStripeVerifierWithBackend lets tests point the client at a local server.
func NewStripeVerifierWithBackend(secretKey string, backend stripe.Backend) *StripeVerifier {
	return &StripeVerifier{intents: &paymentintent.Client{B: backend, Key: secretKey}}
}

func (v *StripeVerifier) Confirm(ctx context.Context, method Method, externalID string) (Confirmation, error) {
	if method != MethodStripe {
		return Failed(method, externalID, nil), fmt.Errorf("%w: stripe verifier got %q", ErrUnsupportedMethod, method)
	}
	if strings.TrimSpace(externalID) == "" {
		return Failed(method, externalID, nil), fmt.Errorf("payments: stripe payment intent id required")
	}

	ctx, span := stripeTracer.Start(ctx, "stripe.get_payment_intent")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.payment_id", externalID))

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := v.intents.Get(externalID, params)
	if err != nil {
		span.RecordError(err)
		return Failed(method, externalID, nil), fmt.Errorf("payments: stripe get payment intent: %w", err)
	}
	conf := FromStripePaymentIntent(pi)
	span.SetAttributes(attribute.String("medspa.payment_status", string(conf.Status)))
	return conf, nil
}

// FromStripePaymentIntent normalizes a PaymentIntent, whether fetched or delivered by webhook.
func FromStripePaymentIntent(pi *stripe.PaymentIntent) Confirmation {
	if pi == nil {
		return Failed(MethodStripe, "", nil)
	}
	var raw []byte
	if pi.LastResponse != nil {
		raw = pi.LastResponse.RawJSON
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	return Normalize(MethodStripe, pi.ID, string(pi.Status), amount, string(pi.Currency), raw)
}

var _ Verifier = (*StripeVerifier)(nil)
