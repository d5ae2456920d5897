package appointments

import (
	"errors"
	"fmt"
	"strings"
)

// Booking failures. Callers branch with errors.Is; the zero-slot case is never an error.
var (
	// ErrInvalidSelection covers empty treatment lists, unusable durations and past dates.
	ErrInvalidSelection = errors.New("appointments: invalid selection")
	// ErrCatalogLookup means one or more treatment ids could not be resolved.
	ErrCatalogLookup = errors.New("appointments: catalog lookup failed")
	// ErrSlotNoLongerAvailable means the slot overlapped an existing booking at commit time.
	ErrSlotNoLongerAvailable = errors.New("appointments: slot no longer available")
	// ErrPaymentNotConfirmed is a caller bug: Book was invoked without a completed payment.
	ErrPaymentNotConfirmed = errors.New("appointments: payment not confirmed")
	// ErrLedgerUnavailable is a transient storage failure. Nothing was committed.
	ErrLedgerUnavailable = errors.New("appointments: ledger unavailable")

	ErrNotFound          = errors.New("appointments: not found")
	ErrInvalidTransition = errors.New("appointments: invalid status transition")
	// ErrDuplicatePayment is returned by ledgers when a payment is already attached to an appointment.
	ErrDuplicatePayment = errors.New("appointments: payment already used")
)

func invalidSelection(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSelection, fmt.Sprintf(format, args...))
}

func ledgerUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrLedgerUnavailable, op, err)
}

// CatalogLookupError lists the treatment ids the catalog could not resolve.
type CatalogLookupError struct {
	Missing []string
	Err     error
}

func (e *CatalogLookupError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("%s: %v", ErrCatalogLookup, e.Err)
	}
	return fmt.Sprintf("%s: unknown treatments %s", ErrCatalogLookup, strings.Join(e.Missing, ", "))
}

func (e *CatalogLookupError) Is(target error) bool { return target == ErrCatalogLookup }

func (e *CatalogLookupError) Unwrap() error { return e.Err }

// PaidBookingError marks "payment captured, booking write failed". It matches
// ErrLedgerUnavailable but carries what reconciliation needs.
type PaidBookingError struct {
	Payment Payment
	Request BookingRequest
	Err     error
}

func (e *PaidBookingError) Error() string {
	return fmt.Sprintf("appointments: payment %s/%s captured but booking not written: %v",
		e.Payment.Method, e.Payment.ExternalID, e.Err)
}

func (e *PaidBookingError) Unwrap() []error {
	return []error{ErrLedgerUnavailable, e.Err}
}

// IsPaidBookingFailure reports whether err means money was taken without a booking.
func IsPaidBookingFailure(err error) (*PaidBookingError, bool) {
	var pbe *PaidBookingError
	if errors.As(err, &pbe) {
		return pbe, true
	}
	return nil, false
}
