package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-booking/internal/audit"
	"github.com/wolfman30/medspa-booking/internal/catalog"
	"github.com/wolfman30/medspa-booking/internal/clock"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
)

func TestBookSnapshotsTreatments(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.Book(context.Background(), request(scheduling.At(10, 0), paid("pi_1", 15000), "botox", "filler"))
	require.NoError(t, err)

	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, 75, appt.DurationMinutes)
	assert.Equal(t, int64(15000), appt.TotalPriceCents)
	assert.Equal(t, "Botox + 1 other", appt.Title)
	assert.Equal(t, payments.MethodStripe, appt.Payment.Method)
	assert.Equal(t, "pi_1", appt.Payment.ExternalID)
	assert.Equal(t, testNow, appt.CreatedAt)

	stored, err := f.ledger.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt, stored)

	assert.Equal(t, []string{"appointments.booked.v1"}, f.events.types())
	assert.Equal(t, []audit.Action{audit.ActionBooked}, f.audit.actions())
}

func TestBookPriceIsNotRepricedByCatalogChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, request(scheduling.At(9, 0), paid("pi_1", 10000), "botox"))
	require.NoError(t, err)

	repriced := botox
	repriced.PriceCents = 99900
	require.NoError(t, f.catalog.Upsert(ctx, repriced))

	got, err := f.svc.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.TotalPriceCents)
}

func TestBookShortSelectionIsFlooredToThirtyMinutes(t *testing.T) {
	f := newFixture(t)
	quick := catalog.Treatment{ID: "consult", Name: "Consult", DurationMinutes: 10, PriceCents: 0, Active: true}
	require.NoError(t, f.catalog.Upsert(context.Background(), quick))

	appt, err := f.svc.Book(context.Background(), request(scheduling.At(9, 0), paid("pi_1", 0), "consult"))
	require.NoError(t, err)
	assert.Equal(t, 30, appt.DurationMinutes)
}

func TestConcurrentBookingsForSameSlotYieldOneAppointment(t *testing.T) {
	f := newFixture(t)
	const attempts = 25

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request(scheduling.At(10, 0), paid("pi_race_"+string(rune('a'+i)), 10000), "botox")
			_, err := f.svc.Book(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotNoLongerAvailable):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one booking, got %d", successes)
	}
	if conflicts != attempts-1 {
		t.Fatalf("expected %d conflicts, got %d (others: %v)", attempts-1, conflicts, others)
	}
	day, err := f.ledger.ListDay(context.Background(), bookDate)
	require.NoError(t, err)
	assert.Len(t, day, 1)
}

func TestBookTreatsCorruptDurationAsSixtyMinutes(t *testing.T) {
	f := newFixture(t)
	f.ledger.Seed(Appointment{
		ID:              "legacy",
		ClientID:        "client-0",
		Date:            bookDate,
		Start:           scheduling.At(10, 0),
		DurationMinutes: 0,
		Status:          StatusConfirmed,
		Payment:         Payment{Method: payments.MethodSquare, ExternalID: "sq_legacy", Status: payments.StatusCompleted},
	})

	_, err := f.svc.Book(context.Background(), request(scheduling.At(10, 30), paid("pi_1", 10000), "botox"))
	if !errors.Is(err, ErrSlotNoLongerAvailable) {
		t.Fatalf("expected slot conflict inside fallback window, got %v", err)
	}

	_, err = f.svc.Book(context.Background(), request(scheduling.At(11, 0), paid("pi_2", 10000), "botox"))
	require.NoError(t, err)
}

func TestBookReplaysSamePayment(t *testing.T) {
	f := newFixture(t)
	req := request(scheduling.At(14, 0), paid("pi_1", 10000), "botox")

	first, err := f.svc.Book(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Book(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	day, _ := f.ledger.ListDay(context.Background(), bookDate)
	assert.Len(t, day, 1)
	assert.Len(t, f.events.types(), 1)
}

func TestBookRejectsPaymentAlreadyUsedElsewhere(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), request(scheduling.At(14, 0), paid("pi_1", 10000), "botox"))
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), request(scheduling.At(15, 0), paid("pi_1", 10000), "botox"))
	assert.ErrorIs(t, err, ErrDuplicatePayment)
}

func TestBookRequiresCompletedPayment(t *testing.T) {
	for _, status := range []payments.Status{payments.StatusFailed, payments.StatusCancelled, ""} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			conf := paid("pi_1", 10000)
			conf.Status = status

			_, err := f.svc.Book(context.Background(), request(scheduling.At(10, 0), conf, "botox"))
			assert.ErrorIs(t, err, ErrPaymentNotConfirmed)
			_, isPaid := IsPaidBookingFailure(err)
			assert.False(t, isPaid)

			day, _ := f.ledger.ListDay(context.Background(), bookDate)
			assert.Empty(t, day)
		})
	}
}

func TestBookReportsMissingTreatments(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), request(scheduling.At(10, 0), paid("pi_1", 10000), "botox", "ghost"))
	var catErr *CatalogLookupError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, []string{"ghost"}, catErr.Missing)
	assert.ErrorIs(t, err, ErrCatalogLookup)
}

func TestBookRejectsInvalidSelections(t *testing.T) {
	tests := []struct {
		name string
		req  BookingRequest
	}{
		{"overlaps lunch", request(scheduling.At(11, 30), paid("pi_1", 0), "facial")},
		{"runs past close", request(scheduling.At(17, 30), paid("pi_1", 0), "facial")},
		{"before open", request(scheduling.At(8, 0), paid("pi_1", 0), "botox")},
		{"no treatments", request(scheduling.At(10, 0), paid("pi_1", 0))},
		{"duplicate treatment", request(scheduling.At(10, 0), paid("pi_1", 0), "botox", "botox")},
		{"past date", func() BookingRequest {
			r := request(scheduling.At(10, 0), paid("pi_1", 0), "botox")
			r.Date = bookDate.AddDays(-30)
			return r
		}()},
		{"missing client", func() BookingRequest {
			r := request(scheduling.At(10, 0), paid("pi_1", 0), "botox")
			r.ClientID = " "
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Book(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidSelection)
			day, _ := f.ledger.ListDay(context.Background(), bookDate)
			assert.Empty(t, day)
		})
	}
}

func TestBookRejectsElapsedStartToday(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC))

	_, err := f.svc.Book(context.Background(), request(scheduling.At(11, 0), paid("pi_1", 0), "botox"))
	assert.ErrorIs(t, err, ErrInvalidSelection)

	_, err = f.svc.Book(context.Background(), request(scheduling.At(11, 30), paid("pi_2", 0), "botox"))
	assert.NoError(t, err)
}

func TestBookLedgerFailureAfterPaymentIsFlagged(t *testing.T) {
	f := newFixture(t)
	broken := &brokenLedger{InMemoryLedger: f.ledger, err: errDiskOnFire}
	svc := NewService(f.catalog, broken, f.clock, WithAudit(f.audit), WithEvents(f.events))

	_, err := svc.Book(context.Background(), request(scheduling.At(10, 0), paid("pi_1", 10000), "botox"))
	pbe, ok := IsPaidBookingFailure(err)
	require.True(t, ok, "expected paid booking failure, got %v", err)
	assert.Equal(t, "pi_1", pbe.Payment.ExternalID)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.ErrorIs(t, err, errDiskOnFire)

	assert.Equal(t, []audit.Action{audit.ActionPaidBookingFailed}, f.audit.actions())
	assert.Empty(t, f.events.types())
}

func TestBookSucceedsWhenEventAppendFails(t *testing.T) {
	f := newFixture(t)
	f.events.err = errDiskOnFire

	_, err := f.svc.Book(context.Background(), request(scheduling.At(10, 0), paid("pi_1", 10000), "botox"))
	require.NoError(t, err)
}

func TestAvailabilityReflectsBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, request(scheduling.At(10, 0), paid("pi_1", 15000), "botox", "filler"))
	require.NoError(t, err)

	slots, err := f.svc.Availability(ctx, bookDate, []string{"botox"})
	require.NoError(t, err)

	want := []scheduling.TimeOfDay{scheduling.At(9, 0), scheduling.At(9, 30), scheduling.At(11, 30)}
	for start := scheduling.At(13, 0); start < scheduling.At(18, 0); start = start.Add(30) {
		want = append(want, start)
	}
	assert.Equal(t, want, slots)
}

func TestAvailabilityEdgeCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots, err := f.svc.Availability(ctx, bookDate, nil)
	require.NoError(t, err)
	assert.Empty(t, slots)

	_, err = f.svc.Availability(ctx, bookDate.AddDays(-7), []string{"botox"})
	assert.ErrorIs(t, err, ErrInvalidSelection)

	_, err = f.svc.Availability(ctx, bookDate, []string{"ghost"})
	assert.ErrorIs(t, err, ErrCatalogLookup)
}

func TestAvailabilityDropsElapsedTimesToday(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2025, 3, 14, 15, 10, 0, 0, time.UTC))

	slots, err := f.svc.Availability(context.Background(), bookDate, []string{"botox"})
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, scheduling.At(15, 30), slots[0])
}

func TestAvailabilityUsesClinicTimezone(t *testing.T) {
	f := newFixture(t, WithLocation(time.FixedZone("EDT", -4*60*60)))
	// 2025-03-14 20:00 UTC is 16:00 at the clinic.
	f.clock.Set(time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC))

	slots, err := f.svc.Availability(context.Background(), bookDate, []string{"botox"})
	require.NoError(t, err)
	assert.Equal(t, []scheduling.TimeOfDay{scheduling.At(16, 30), scheduling.At(17, 0), scheduling.At(17, 30)}, slots)
}

func TestAvailabilityCacheIsInvalidatedByWrites(t *testing.T) {
	clk := clock.Fixed(testNow)
	cache, err := NewAvailabilityCache(16, time.Minute, clk)
	require.NoError(t, err)
	counting := &countingLedger{InMemoryLedger: NewInMemoryLedger()}
	svc := NewService(catalog.NewInMemoryCatalog(botox), counting, clk, WithAvailabilityCache(cache))
	ctx := context.Background()

	_, err = svc.Availability(ctx, bookDate, []string{"botox"})
	require.NoError(t, err)
	_, err = svc.Availability(ctx, bookDate, []string{"botox"})
	require.NoError(t, err)
	assert.Equal(t, 1, counting.reads)

	_, err = svc.Book(ctx, request(scheduling.At(9, 0), paid("pi_1", 0), "botox"))
	require.NoError(t, err)
	slots, err := svc.Availability(ctx, bookDate, []string{"botox"})
	require.NoError(t, err)
	assert.Equal(t, 2, counting.reads)
	assert.NotContains(t, slots, scheduling.At(9, 0))

	clk.Advance(2 * time.Minute)
	_, err = svc.Availability(ctx, bookDate, []string{"botox"})
	require.NoError(t, err)
	assert.Equal(t, 3, counting.reads)
}

func TestAvailabilityDoesNotCacheReadThatRacedBooking(t *testing.T) {
	clk := clock.Fixed(testNow)
	cache, err := NewAvailabilityCache(16, time.Minute, clk)
	require.NoError(t, err)
	racing := &racingLedger{InMemoryLedger: NewInMemoryLedger()}
	svc := NewService(catalog.NewInMemoryCatalog(botox), racing, clk, WithAvailabilityCache(cache))
	ctx := context.Background()

	racing.onRead = func() {
		_, err := svc.Book(ctx, request(scheduling.At(10, 0), paid("pi_1", 10000), "botox"))
		require.NoError(t, err)
	}
	slots, err := svc.Availability(ctx, bookDate, []string{"botox"})
	require.NoError(t, err)
	assert.Contains(t, slots, scheduling.At(10, 0), "read started before the booking committed")
	assert.Equal(t, 0, cache.Len())

	slots, err = svc.Availability(ctx, bookDate, []string{"botox"})
	require.NoError(t, err)
	assert.NotContains(t, slots, scheduling.At(10, 0))
}

func TestUpdateStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, request(scheduling.At(10, 0), paid("pi_1", 10000), "botox"))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	cancelled, err := f.svc.UpdateStatus(ctx, appt.ID, StatusCancelled, "client called", "staff-7")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "client called", cancelled.Notes)
	assert.Equal(t, testNow.Add(time.Hour), cancelled.UpdatedAt)

	// The record stays but no longer blocks the slot.
	slots, err := f.svc.Availability(ctx, bookDate, []string{"botox"})
	require.NoError(t, err)
	assert.Contains(t, slots, scheduling.At(10, 0))
	day, _ := f.svc.ListDay(ctx, bookDate)
	assert.Len(t, day, 1)

	_, err = f.svc.UpdateStatus(ctx, appt.ID, StatusConfirmed, "", "staff-7")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, "missing", StatusCancelled, "", "staff-7")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"appointments.booked.v1", "appointments.updated.v1"}, f.events.types())
	assert.Equal(t, []audit.Action{audit.ActionBooked, audit.ActionStatusChanged}, f.audit.actions())
}

func TestOutcomeLabels(t *testing.T) {
	tests := map[string]error{
		"confirmed":             nil,
		"payment_not_confirmed": ErrPaymentNotConfirmed,
		"invalid_selection":     invalidSelection("x"),
		"catalog_lookup":        &CatalogLookupError{Missing: []string{"a"}},
		"slot_taken":            ErrSlotNoLongerAvailable,
		"duplicate_payment":     ErrDuplicatePayment,
		"ledger_unavailable":    ledgerUnavailable("op", errDiskOnFire),
		"paid_write_failed":     &PaidBookingError{Err: errDiskOnFire},
	}
	for want, err := range tests {
		if got := outcomeOf(err); got != want {
			t.Errorf("outcomeOf(%v) = %q, want %q", err, got, want)
		}
	}
}
