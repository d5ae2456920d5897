package payments

import (
	"context"
	"fmt"

	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// Verifier asks the provider what happened to a payment. Implementations never return a
// completed confirmation alongside an error.
type Verifier interface {
	Confirm(ctx context.Context, method Method, externalID string) (Confirmation, error)
}

// MultiVerifier routes a confirmation request to the provider that handled the payment.
type MultiVerifier struct {
	stripe Verifier
	square Verifier
	logger *logging.Logger
}

func NewMultiVerifier(stripe, square Verifier, logger *logging.Logger) *MultiVerifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &MultiVerifier{stripe: stripe, square: square, logger: logger}
}

func (m *MultiVerifier) Confirm(ctx context.Context, method Method, externalID string) (Confirmation, error) {
	var provider Verifier
	switch method {
	case MethodStripe:
		provider = m.stripe
	case MethodSquare:
		provider = m.square
	default:
		return Failed(method, externalID, nil), fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	if provider == nil {
		return Failed(method, externalID, nil), fmt.Errorf("payments: %s not configured", method)
	}

	conf, err := provider.Confirm(ctx, method, externalID)
	if err != nil {
		m.logger.Warn("payment verification failed", "method", method, "external_id", externalID, "error", err)
		conf.Status = StatusFailed
		return conf, err
	}
	if conf.Status != StatusCompleted {
		m.logger.Info("payment not completed", "method", method, "external_id", externalID, "status", conf.Status)
	}
	return conf, nil
}

var _ Verifier = (*MultiVerifier)(nil)
