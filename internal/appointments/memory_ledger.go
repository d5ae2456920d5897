package appointments

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
)

// InMemoryLedger keeps appointments in process memory. A per-date mutex is held for the
// whole WithinDay section, which makes check-then-insert atomic within one process.
type InMemoryLedger struct {
	locksMu sync.Mutex
	locks   map[civil.Date]*sync.Mutex

	mu        sync.RWMutex
	byID      map[string]Appointment
	byPayment map[paymentKey]string
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		locks:     make(map[civil.Date]*sync.Mutex),
		byID:      make(map[string]Appointment),
		byPayment: make(map[paymentKey]string),
	}
}

// Seed stores appointments as-is, bypassing every check. Intended for fixtures and tests.
func (l *InMemoryLedger) Seed(appts ...Appointment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range appts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		l.byID[a.ID] = a
		if a.Payment.ExternalID != "" {
			l.byPayment[keyOf(a.Payment)] = a.ID
		}
	}
}

func (l *InMemoryLedger) dayLock(date civil.Date) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[date]
	if !ok {
		m = &sync.Mutex{}
		l.locks[date] = m
	}
	return m
}

func (l *InMemoryLedger) ListActive(ctx context.Context, date civil.Date) ([]scheduling.Occupancy, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledgerUnavailable("list active", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeLocked(date), nil
}

func (l *InMemoryLedger) activeLocked(date civil.Date) []scheduling.Occupancy {
	var out []scheduling.Occupancy
	for _, a := range l.byID {
		if a.Date == date && a.Status.Active() {
			out = append(out, a.Occupancy())
		}
	}
	slices.SortFunc(out, func(a, b scheduling.Occupancy) int { return int(a.Start - b.Start) })
	return out
}

func (l *InMemoryLedger) WithinDay(ctx context.Context, date civil.Date, fn func(ctx context.Context, tx DayTx) error) error {
	lock := l.dayLock(date)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return ledgerUnavailable("begin", err)
	}
	tx := &memoryDayTx{ledger: l, date: date}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return ledgerUnavailable("commit", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range tx.pending {
		l.byID[a.ID] = a
		l.byPayment[keyOf(a.Payment)] = a.ID
	}
	return nil
}

type memoryDayTx struct {
	ledger  *InMemoryLedger
	date    civil.Date
	pending []Appointment
}

func (tx *memoryDayTx) ListActive(ctx context.Context) ([]scheduling.Occupancy, error) {
	tx.ledger.mu.RLock()
	out := tx.ledger.activeLocked(tx.date)
	tx.ledger.mu.RUnlock()
	for _, a := range tx.pending {
		out = append(out, a.Occupancy())
	}
	return out, nil
}

// Insert enforces the same invariants the Postgres constraints do.
func (tx *memoryDayTx) Insert(ctx context.Context, appt Appointment) (Appointment, error) {
	if appt.Date != tx.date {
		return Appointment{}, fmt.Errorf("appointments: insert for %s inside section for %s", appt.Date, tx.date)
	}
	existing, err := tx.ListActive(ctx)
	if err != nil {
		return Appointment{}, err
	}
	if appt.Status.Active() && overlapsAny(appt.Interval(), existing) {
		return Appointment{}, ErrSlotNoLongerAvailable
	}

	tx.ledger.mu.RLock()
	_, used := tx.ledger.byPayment[keyOf(appt.Payment)]
	tx.ledger.mu.RUnlock()
	for _, p := range tx.pending {
		if keyOf(p.Payment) == keyOf(appt.Payment) {
			used = true
		}
	}
	if used {
		return Appointment{}, ErrDuplicatePayment
	}

	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	tx.pending = append(tx.pending, appt)
	return appt, nil
}

func (l *InMemoryLedger) Get(ctx context.Context, id string) (Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.byID[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (l *InMemoryLedger) ListDay(ctx context.Context, date civil.Date) ([]Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Appointment
	for _, a := range l.byID {
		if a.Date == date {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Appointment) int { return int(a.Start - b.Start) })
	return out, nil
}

func (l *InMemoryLedger) FindByPayment(ctx context.Context, method payments.Method, externalID string) (Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byPayment[paymentKey{method: method, externalID: externalID}]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return l.byID[id], nil
}

func (l *InMemoryLedger) UpdateStatus(ctx context.Context, id string, to Status, notes string, at time.Time) (Appointment, Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.byID[id]
	if !ok {
		return Appointment{}, "", ErrNotFound
	}
	from := a.Status
	if !from.CanTransition(to) {
		return Appointment{}, from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	a.Status = to
	if notes != "" {
		a.Notes = notes
	}
	a.UpdatedAt = at
	l.byID[id] = a
	return a, from, nil
}

var _ Ledger = (*InMemoryLedger)(nil)
