package appointments

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
)

// Ledger is the appointment store. Infrastructure failures come back wrapped in
// ErrLedgerUnavailable; a lost race at insert comes back as ErrSlotNoLongerAvailable.
type Ledger interface {
	// ListActive returns the occupancy of every non-cancelled appointment on date.
	ListActive(ctx context.Context, date civil.Date) ([]scheduling.Occupancy, error)
	// WithinDay runs fn in a section that is atomic with respect to every other
	// WithinDay call for the same date. Inserts made through tx are committed only
	// if fn returns nil. Implementations may run fn more than once.
	WithinDay(ctx context.Context, date civil.Date, fn func(ctx context.Context, tx DayTx) error) error
	Get(ctx context.Context, id string) (Appointment, error)
	ListDay(ctx context.Context, date civil.Date) ([]Appointment, error)
	FindByPayment(ctx context.Context, method payments.Method, externalID string) (Appointment, error)
	// UpdateStatus applies a lifecycle transition and returns the updated record and
	// the status it replaced. Non-empty notes replace the stored notes.
	UpdateStatus(ctx context.Context, id string, to Status, notes string, at time.Time) (Appointment, Status, error)
}

// DayTx is the view of one date inside WithinDay.
type DayTx interface {
	ListActive(ctx context.Context) ([]scheduling.Occupancy, error)
	Insert(ctx context.Context, appt Appointment) (Appointment, error)
}

// outboxTx is implemented by day sections that share a database with the event
// outbox. An event appended through it commits or rolls back with the inserts.
type outboxTx interface {
	AppendEvent(ctx context.Context, env events.Envelope) error
}

type paymentKey struct {
	method     payments.Method
	externalID string
}

func keyOf(p Payment) paymentKey {
	return paymentKey{method: p.Method, externalID: p.ExternalID}
}

func overlapsAny(want scheduling.Interval, existing []scheduling.Occupancy) bool {
	for _, occ := range existing {
		if want.Overlaps(occ.Interval()) {
			return true
		}
	}
	return false
}
