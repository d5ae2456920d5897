package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/medspa-booking/internal/audit"
	"github.com/wolfman30/medspa-booking/internal/catalog"
	"github.com/wolfman30/medspa-booking/internal/clock"
	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

var (
	botox  = catalog.Treatment{ID: "botox", Name: "Botox", DurationMinutes: 30, PriceCents: 10000, Active: true}
	filler = catalog.Treatment{ID: "filler", Name: "Lip Filler", DurationMinutes: 45, PriceCents: 5000, Active: true}
	facial = catalog.Treatment{ID: "facial", Name: "HydraFacial", DurationMinutes: 60, PriceCents: 20000, Active: true}

	// Monday 2025-03-10 08:00 UTC; bookings go to Friday.
	testNow  = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	bookDate = civil.Date{Year: 2025, Month: 3, Day: 14}
)

type fixture struct {
	svc     *Service
	ledger  *InMemoryLedger
	catalog *catalog.InMemoryCatalog
	clock   *clock.Manual
	events  *recordingSink
	audit   *recordingAudit
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  NewInMemoryLedger(),
		catalog: catalog.NewInMemoryCatalog(botox, filler, facial),
		clock:   clock.Fixed(testNow),
		events:  &recordingSink{},
		audit:   &recordingAudit{},
	}
	base := []Option{WithEvents(f.events), WithAudit(f.audit), WithLogger(logging.Discard())}
	f.svc = NewService(f.catalog, f.ledger, f.clock, append(base, opts...)...)
	return f
}

func paid(id string, cents int64) payments.Confirmation {
	return payments.Confirmation{
		Method:      payments.MethodStripe,
		ExternalID:  id,
		Status:      payments.StatusCompleted,
		AmountCents: cents,
		Currency:    "usd",
	}
}

func request(start scheduling.TimeOfDay, payment payments.Confirmation, ids ...string) BookingRequest {
	return BookingRequest{
		ClientID:     "client-1",
		ClientName:   "Ana Client",
		ClientEmail:  "ana@example.com",
		Date:         bookDate,
		Start:        start,
		TreatmentIDs: ids,
		Payment:      payment,
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.CanonicalEvent
	err    error
}

func (s *recordingSink) Append(ctx context.Context, aggregate string, evt events.CanonicalEvent) (events.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return events.Envelope{}, s.err
	}
	s.events = append(s.events, evt)
	return events.Envelope{}, nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.EventType())
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Record(ctx context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingAudit) actions() []audit.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Action
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

// brokenLedger fails every write section but serves reads from the wrapped ledger.
type brokenLedger struct {
	*InMemoryLedger
	err error
}

func (b *brokenLedger) WithinDay(ctx context.Context, date civil.Date, fn func(ctx context.Context, tx DayTx) error) error {
	return ledgerUnavailable("within day", b.err)
}

type countingLedger struct {
	*InMemoryLedger
	mu    sync.Mutex
	reads int
}

func (c *countingLedger) ListActive(ctx context.Context, date civil.Date) ([]scheduling.Occupancy, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.InMemoryLedger.ListActive(ctx, date)
}

// racingLedger runs onRead once between serving a ListActive and returning it,
// the window in which a concurrent booking can commit.
type racingLedger struct {
	*InMemoryLedger
	onRead func()
}

func (r *racingLedger) ListActive(ctx context.Context, date civil.Date) ([]scheduling.Occupancy, error) {
	occ, err := r.InMemoryLedger.ListActive(ctx, date)
	if hook := r.onRead; hook != nil {
		r.onRead = nil
		hook()
	}
	return occ, err
}

var errDiskOnFire = errors.New("disk on fire")
