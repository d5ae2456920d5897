package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-booking/internal/audit"
	"github.com/wolfman30/medspa-booking/internal/catalog"
	"github.com/wolfman30/medspa-booking/internal/clock"
	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

var appointmentsTracer = otel.Tracer("medspa.internal.appointments")

type eventSink interface {
	Append(ctx context.Context, aggregate string, evt events.CanonicalEvent) (events.Envelope, error)
}

type auditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Service exposes availability, booking and the staff lifecycle on top of a Ledger.
type Service struct {
	catalog  catalog.Lookup
	ledger   Ledger
	hours    scheduling.Hours
	clock    clock.Clock
	location *time.Location
	cache    *AvailabilityCache
	events   eventSink
	audit    auditRecorder
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
}

// Option customizes a Service.
type Option func(*Service)

func WithHours(h scheduling.Hours) Option { return func(s *Service) { s.hours = h } }

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithAvailabilityCache(c *AvailabilityCache) Option { return func(s *Service) { s.cache = c } }

// WithEvents appends booked/updated events after each successful write.
func WithEvents(sink eventSink) Option { return func(s *Service) { s.events = sink } }

func WithAudit(a auditRecorder) Option { return func(s *Service) { s.audit = a } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService constructs an appointments service with default clinic hours in UTC.
func NewService(lookup catalog.Lookup, ledger Ledger, clk clock.Clock, opts ...Option) *Service {
	if lookup == nil {
		panic("appointments: catalog lookup required")
	}
	if ledger == nil {
		panic("appointments: ledger required")
	}
	if clk == nil {
		clk = clock.System()
	}
	s := &Service{
		catalog:  lookup,
		ledger:   ledger,
		hours:    scheduling.DefaultHours(),
		clock:    clk,
		location: time.UTC,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the clinic's timezone.
func (s *Service) Location() *time.Location { return s.location }

// Today is the current clinic-local date.
func (s *Service) Today() civil.Date {
	return civil.DateOf(s.clock.Now().In(s.location))
}

// Availability lists bookable start times for the selected treatments. An empty result
// is a normal answer. Past dates are rejected and today's elapsed times are dropped.
func (s *Service) Availability(ctx context.Context, date civil.Date, treatmentIDs []string) ([]scheduling.TimeOfDay, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.availability")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.date", date.String()), attribute.Int("medspa.treatments", len(treatmentIDs)))

	if !date.IsValid() {
		return nil, invalidSelection("invalid date %v", date)
	}
	now := s.clock.Now().In(s.location)
	today := civil.DateOf(now)
	if date.Before(today) {
		return nil, invalidSelection("date %s is in the past", date)
	}
	if len(treatmentIDs) == 0 {
		return nil, nil
	}

	treatments, err := s.resolve(ctx, treatmentIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	required := scheduling.RequiredDuration(durations(treatments)...)
	if required <= 0 {
		return nil, nil
	}

	occupied, hit := s.cache.Get(date)
	s.metrics.ObserveAvailability(hit)
	if !hit {
		token := s.cache.Begin(date)
		occupied, err = s.ledger.ListActive(ctx, date)
		if err != nil {
			span.RecordError(err)
			return nil, ledgerUnavailable("list active", err)
		}
		s.cache.Put(date, occupied, token)
	}

	slots := s.hours.AvailableSlots(date, required, occupied)
	if date == today {
		elapsed := scheduling.TimeOfDayOf(civil.TimeOf(now))
		upcoming := slots[:0]
		for _, slot := range slots {
			if slot > elapsed {
				upcoming = append(upcoming, slot)
			}
		}
		slots = upcoming
	}
	return slots, nil
}

// Book runs the booking transaction for a paid selection. Payment must already be
// completed. On success exactly one appointment is written; on failure none is.
// A request whose payment is already attached to the same slot returns that appointment.
func (s *Service) Book(ctx context.Context, req BookingRequest) (Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("medspa.date", req.Date.String()),
		attribute.String("medspa.start", req.Start.String()),
		attribute.String("medspa.payment_method", string(req.Payment.Method)),
	)
	started := time.Now()

	appt, err := s.book(ctx, req)
	outcome := outcomeOf(err)
	s.metrics.ObserveBooking(outcome, time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("booking failed", "outcome", outcome, "date", req.Date.String(), "start", req.Start.String(),
			"payment_method", req.Payment.Method, "payment_id", req.Payment.ExternalID, "error", err)
		if pbe, ok := IsPaidBookingFailure(err); ok {
			s.recordPaidFailure(ctx, pbe)
		}
		return Appointment{}, err
	}
	span.SetAttributes(attribute.String("medspa.appointment_id", appt.ID))
	return appt, nil
}

func (s *Service) book(ctx context.Context, req BookingRequest) (Appointment, error) {
	now := s.clock.Now()
	if err := req.Validate(now, s.location); err != nil {
		return Appointment{}, err
	}
	payment := paymentFrom(req.Payment)

	if existing, ok, err := s.replay(ctx, req, payment); err != nil || ok {
		return existing, err
	}

	treatments, err := s.resolve(ctx, req.TreatmentIDs)
	if err != nil {
		if errors.Is(err, ErrLedgerUnavailable) {
			return Appointment{}, &PaidBookingError{Payment: payment, Request: req, Err: err}
		}
		return Appointment{}, err
	}
	duration := scheduling.RequiredDuration(durations(treatments)...)
	if duration <= 0 {
		return Appointment{}, invalidSelection("selected treatments have no duration")
	}
	if reason := s.hours.Check(req.Date, req.Start, duration, nil); reason != scheduling.Available {
		return Appointment{}, invalidSelection("%s at %s: %s", req.Date, req.Start, reason)
	}
	if payment.AmountCents != totalPrice(treatments) {
		s.logger.Info("payment amount differs from treatment total", "payment_cents", payment.AmountCents,
			"total_cents", totalPrice(treatments), "payment_id", payment.ExternalID)
	}

	appt := Appointment{
		ID:              uuid.NewString(),
		ClientID:        req.ClientID,
		ClientName:      req.ClientName,
		ClientEmail:     req.ClientEmail,
		Date:            req.Date,
		Start:           req.Start,
		DurationMinutes: duration,
		TreatmentIDs:    append([]string(nil), req.TreatmentIDs...),
		Title:           Title(treatments),
		TotalPriceCents: totalPrice(treatments),
		Status:          StatusConfirmed,
		Notes:           req.Notes,
		Payment:         payment,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}

	var (
		saved        Appointment
		eventWritten bool
	)
	err = s.ledger.WithinDay(ctx, req.Date, func(ctx context.Context, tx DayTx) error {
		eventWritten = false
		existing, err := tx.ListActive(ctx)
		if err != nil {
			return err
		}
		if overlapsAny(appt.Interval(), existing) {
			return ErrSlotNoLongerAvailable
		}
		saved, err = tx.Insert(ctx, appt)
		if err != nil {
			return err
		}
		if otx, ok := tx.(outboxTx); ok && s.events != nil {
			env, err := events.Seal(events.AppointmentAggregate(saved.ID), bookedEvent(saved), now)
			if err != nil {
				return err
			}
			if err := otx.AppendEvent(ctx, env); err != nil {
				return err
			}
			eventWritten = true
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrSlotNoLongerAvailable):
		return Appointment{}, fmt.Errorf("%w: %s at %s", ErrSlotNoLongerAvailable, req.Date, req.Start)
	case errors.Is(err, ErrDuplicatePayment):
		// A concurrent request with the same payment won the race.
		if existing, ok, rerr := s.replay(ctx, req, payment); rerr == nil && ok {
			return existing, nil
		}
		return Appointment{}, err
	default:
		return Appointment{}, &PaidBookingError{Payment: payment, Request: req, Err: err}
	}

	s.cache.Invalidate(req.Date)
	s.afterBook(ctx, saved, eventWritten)
	return saved, nil
}

// replay finds an appointment already created with this payment. A payment attached
// to a different slot is a caller error.
func (s *Service) replay(ctx context.Context, req BookingRequest, payment Payment) (Appointment, bool, error) {
	existing, err := s.ledger.FindByPayment(ctx, payment.Method, payment.ExternalID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Appointment{}, false, nil
	case err != nil:
		return Appointment{}, false, &PaidBookingError{Payment: payment, Request: req, Err: err}
	}
	if existing.Date != req.Date || existing.Start != req.Start || existing.ClientID != req.ClientID {
		return Appointment{}, false, fmt.Errorf("%w: %s/%s belongs to appointment %s", ErrDuplicatePayment,
			payment.Method, payment.ExternalID, existing.ID)
	}
	s.logger.Info("booking replayed", "appointment_id", existing.ID, "payment_id", payment.ExternalID)
	return existing, true, nil
}

// afterBook runs the side effects of a committed booking. eventWritten is set when
// the ledger already stored the booked event in the booking transaction.
func (s *Service) afterBook(ctx context.Context, appt Appointment, eventWritten bool) {
	s.logger.Info("appointment booked", "appointment_id", appt.ID, "date", appt.Date.String(),
		"start", appt.Start.String(), "duration_minutes", appt.DurationMinutes, "total_cents", appt.TotalPriceCents)

	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.Entry{
			AppointmentID: appt.ID,
			Action:        audit.ActionBooked,
			ToStatus:      string(appt.Status),
			Actor:         appt.ClientID,
		}); err != nil {
			s.logger.Error("audit record failed", "error", err, "appointment_id", appt.ID)
		}
	}
	if s.events != nil && !eventWritten {
		if _, err := s.events.Append(ctx, events.AppointmentAggregate(appt.ID), bookedEvent(appt)); err != nil {
			s.logger.Error("failed to append booked event", "error", err, "appointment_id", appt.ID)
		}
	}
}

func bookedEvent(appt Appointment) events.AppointmentBookedV1 {
	return events.AppointmentBookedV1{
		AppointmentID:     appt.ID,
		Date:              appt.Date.String(),
		StartTime:         appt.Start.String(),
		DurationMinutes:   appt.DurationMinutes,
		TreatmentIDs:      appt.TreatmentIDs,
		Title:             appt.Title,
		TotalPriceCents:   appt.TotalPriceCents,
		ClientName:        appt.ClientName,
		ClientEmail:       appt.ClientEmail,
		PaymentMethod:     string(appt.Payment.Method),
		PaymentExternalID: appt.Payment.ExternalID,
		PaymentCents:      appt.Payment.AmountCents,
		BookedAt:          appt.CreatedAt,
	}
}

func (s *Service) recordPaidFailure(ctx context.Context, pbe *PaidBookingError) {
	if s.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]any{
		"payment_method": pbe.Payment.Method,
		"payment_id":     pbe.Payment.ExternalID,
		"amount_cents":   pbe.Payment.AmountCents,
		"date":           pbe.Request.Date.String(),
		"start":          pbe.Request.Start.String(),
		"error":          pbe.Err.Error(),
	})
	if err := s.audit.Record(ctx, audit.Entry{
		Action:  audit.ActionPaidBookingFailed,
		Actor:   pbe.Request.ClientID,
		Details: details,
	}); err != nil {
		s.logger.Error("audit record failed", "error", err, "payment_id", pbe.Payment.ExternalID)
	}
}

// UpdateStatus applies a staff lifecycle transition.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, notes, actor string) (Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.update_status")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.appointment_id", id), attribute.String("medspa.status", string(to)))

	appt, from, err := s.ledger.UpdateStatus(ctx, id, to, notes, s.clock.Now().UTC())
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrLedgerUnavailable) {
			return Appointment{}, err
		}
		return Appointment{}, ledgerUnavailable("update status", err)
	}
	s.cache.Invalidate(appt.Date)
	s.logger.Info("appointment status changed", "appointment_id", id, "from", from, "to", to, "actor", actor)

	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.Entry{
			AppointmentID: id,
			Action:        audit.ActionStatusChanged,
			FromStatus:    string(from),
			ToStatus:      string(to),
			Actor:         actor,
		}); err != nil {
			s.logger.Error("audit record failed", "error", err, "appointment_id", id)
		}
	}
	if s.events != nil {
		evt := events.AppointmentUpdatedV1{
			AppointmentID: id,
			Date:          appt.Date.String(),
			StartTime:     appt.Start.String(),
			FromStatus:    string(from),
			ToStatus:      string(to),
			Notes:         notes,
			Actor:         actor,
			UpdatedAt:     appt.UpdatedAt,
		}
		if _, err := s.events.Append(ctx, events.AppointmentAggregate(id), evt); err != nil {
			s.logger.Error("failed to append updated event", "error", err, "appointment_id", id)
		}
	}
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id string) (Appointment, error) {
	return s.ledger.Get(ctx, id)
}

func (s *Service) ListDay(ctx context.Context, date civil.Date) ([]Appointment, error) {
	return s.ledger.ListDay(ctx, date)
}

func (s *Service) resolve(ctx context.Context, ids []string) ([]catalog.Treatment, error) {
	treatments, err := s.catalog.ResolveTreatments(ctx, ids)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &CatalogLookupError{Missing: catalog.MissingIDs(err), Err: err}
		}
		return nil, ledgerUnavailable("resolve treatments", err)
	}
	return treatments, nil
}

func durations(treatments []catalog.Treatment) []int {
	out := make([]int, len(treatments))
	for i, t := range treatments {
		out[i] = t.DurationMinutes
	}
	return out
}

func totalPrice(treatments []catalog.Treatment) int64 {
	var total int64
	for _, t := range treatments {
		total += t.PriceCents
	}
	return total
}

// outcomeOf labels a Book result for metrics.
func outcomeOf(err error) string {
	if _, ok := IsPaidBookingFailure(err); ok {
		return "paid_write_failed"
	}
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, ErrPaymentNotConfirmed):
		return "payment_not_confirmed"
	case errors.Is(err, ErrInvalidSelection):
		return "invalid_selection"
	case errors.Is(err, ErrCatalogLookup):
		return "catalog_lookup"
	case errors.Is(err, ErrSlotNoLongerAvailable):
		return "slot_taken"
	case errors.Is(err, ErrDuplicatePayment):
		return "duplicate_payment"
	default:
		return "ledger_unavailable"
	}
}
