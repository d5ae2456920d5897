package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/internal/http/middleware"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

const defaultBookingTimeout = 10 * time.Second

// Notifier hears about committed changes. Implementations must return immediately.
type Notifier interface {
	AppointmentBooked(appt Appointment)
	AppointmentUpdated(appt Appointment)
}

type reconcilePublisher interface {
	Publish(ctx context.Context, aggregate string, evt events.CanonicalEvent) (events.Envelope, error)
}

// Handler serves the public booking API and the staff admin routes.
type Handler struct {
	service   *Service
	verifier  payments.Verifier
	notifier  Notifier
	reconcile reconcilePublisher
	timeout   time.Duration
	logger    *logging.Logger
}

// HandlerConfig wires optional collaborators.
type HandlerConfig struct {
	Notifier       Notifier
	Reconciliation reconcilePublisher
	BookingTimeout time.Duration
	Logger         *logging.Logger
}

func NewHandler(service *Service, verifier payments.Verifier, cfg HandlerConfig) *Handler {
	if service == nil {
		panic("appointments: service required")
	}
	if verifier == nil {
		panic("appointments: payment verifier required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.BookingTimeout <= 0 {
		cfg.BookingTimeout = defaultBookingTimeout
	}
	return &Handler{
		service:   service,
		verifier:  verifier,
		notifier:  cfg.Notifier,
		reconcile: cfg.Reconciliation,
		timeout:   cfg.BookingTimeout,
		logger:    cfg.Logger,
	}
}

// Routes mounts under /v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/availability", h.GetAvailability)
	r.Post("/appointments", h.CreateAppointment)
	r.Get("/appointments/{id}", h.GetAppointment)
	return r
}

// AdminRoutes mounts under /admin/appointments behind AdminJWT.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListDay)
	r.Patch("/{id}", h.PatchAppointment)
	return r
}

type availabilityResponse struct {
	Date       string                 `json:"date"`
	Treatments []string               `json:"treatment_ids"`
	Slots      []scheduling.TimeOfDay `json:"slots"`
}

// GetAvailability lists start times.
// GET /v1/availability?date=2025-03-14&treatments=botox,filler
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	date, err := civil.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "date must be YYYY-MM-DD")
		return
	}
	ids := splitIDs(r.URL.Query().Get("treatments"))

	slots, err := h.service.Availability(r.Context(), date, ids)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if slots == nil {
		slots = []scheduling.TimeOfDay{}
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Date: date.String(), Treatments: ids, Slots: slots})
}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

// CreateAppointmentRequest is the client booking payload. The payment is referenced by
// id only; its status always comes from the provider.
type CreateAppointmentRequest struct {
	ClientID     string               `json:"client_id"`
	ClientName   string               `json:"client_name,omitempty"`
	ClientEmail  string               `json:"client_email,omitempty"`
	Date         civil.Date           `json:"date"`
	Start        scheduling.TimeOfDay `json:"start_time"`
	TreatmentIDs []string             `json:"treatment_ids"`
	Notes        string               `json:"notes,omitempty"`
	Payment      struct {
		Method     string `json:"method"`
		ExternalID string `json:"external_id"`
	} `json:"payment"`
}

// CreateAppointment verifies the payment with its provider and runs the booking.
// POST /v1/appointments
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	method, err := payments.ParseMethod(req.Payment.Method)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if strings.TrimSpace(req.Payment.ExternalID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "payment.external_id required")
		return
	}

	// The payment may already be captured, so neither verification nor the write is
	// abandoned when the client hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	conf, err := h.verifier.Confirm(ctx, method, req.Payment.ExternalID)
	if err != nil {
		h.logger.Warn("payment verification error", "method", method, "payment_id", req.Payment.ExternalID, "error", err)
	}
	if !conf.Completed() {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":          ErrPaymentNotConfirmed.Error(),
			"payment_status": conf.Status,
		})
		return
	}

	appt, err := h.service.Book(ctx, BookingRequest{
		ClientID:     req.ClientID,
		ClientName:   req.ClientName,
		ClientEmail:  req.ClientEmail,
		Date:         req.Date,
		Start:        req.Start,
		TreatmentIDs: req.TreatmentIDs,
		Payment:      conf,
		Notes:        req.Notes,
	})
	if err != nil {
		if pbe, ok := IsPaidBookingFailure(err); ok {
			h.publishPaidFailure(ctx, pbe)
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":            "booking could not be saved",
				"payment_captured": true,
				"payment_method":   pbe.Payment.Method,
				"payment_id":       pbe.Payment.ExternalID,
			})
			return
		}
		h.writeServiceError(w, err)
		return
	}

	if h.notifier != nil {
		h.notifier.AppointmentBooked(appt)
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *Handler) publishPaidFailure(ctx context.Context, pbe *PaidBookingError) {
	if h.reconcile == nil {
		h.logger.Error("paid booking failed with no reconciliation queue", "payment_id", pbe.Payment.ExternalID)
		return
	}
	evt := events.PaidBookingFailedV1{
		Provider:     string(pbe.Payment.Method),
		ProviderRef:  pbe.Payment.ExternalID,
		AmountCents:  pbe.Payment.AmountCents,
		Date:         pbe.Request.Date.String(),
		StartTime:    pbe.Request.Start.String(),
		TreatmentIDs: pbe.Request.TreatmentIDs,
		ClientName:   pbe.Request.ClientName,
		ClientEmail:  pbe.Request.ClientEmail,
		Reason:       pbe.Err.Error(),
		OccurredAt:   h.service.clock.Now().UTC(),
	}
	aggregate := events.PaymentAggregate(string(pbe.Payment.Method), pbe.Payment.ExternalID)
	if _, err := h.reconcile.Publish(ctx, aggregate, evt); err != nil {
		h.logger.Error("failed to publish paid booking failure", "payment_id", pbe.Payment.ExternalID, "error", err)
	}
}

// GetAppointment returns one appointment.
// GET /v1/appointments/{id}
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// ListDay returns every appointment on a date, cancelled ones included.
// GET /admin/appointments?date=2025-03-14
func (h *Handler) ListDay(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	date := h.service.Today()
	if raw != "" {
		var err error
		if date, err = civil.ParseDate(raw); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "date must be YYYY-MM-DD")
			return
		}
	}
	appts, err := h.service.ListDay(r.Context(), date)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if appts == nil {
		appts = []Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date.String(), "appointments": appts})
}

// PatchAppointmentRequest moves an appointment through its lifecycle.
type PatchAppointmentRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// PatchAppointment applies a staff status change.
// PATCH /admin/appointments/{id}
func (h *Handler) PatchAppointment(w http.ResponseWriter, r *http.Request) {
	var req PatchAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	to, err := ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	appt, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), to, req.Notes, middleware.AdminActor(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if h.notifier != nil {
		h.notifier.AppointmentUpdated(appt)
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var catErr *CatalogLookupError
	switch {
	case errors.As(err, &catErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       ErrCatalogLookup.Error(),
			"missing_ids": catErr.Missing,
		})
	case errors.Is(err, ErrPaymentNotConfirmed):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrInvalidSelection):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrSlotNoLongerAvailable), errors.Is(err, ErrDuplicatePayment), errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrLedgerUnavailable):
		h.logger.Error("ledger unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "booking temporarily unavailable")
	default:
		h.logger.Error("unexpected appointments error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
