package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// Handler serves the staff treatment menu. Existing appointments keep the price
// and duration they were booked with; edits only affect new bookings.
type Handler struct {
	store  Store
	logger *logging.Logger
}

func NewHandler(store Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Put("/{id}", h.Put)
	return r
}

// List returns the active menu.
// GET /admin/treatments
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	treatments, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("list treatments failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "catalog temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"treatments": treatments})
}

type putTreatmentRequest struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Active          *bool  `json:"active"`
}

// Put creates or replaces a treatment. Omitting active keeps it bookable.
// PUT /admin/treatments/{id}
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	var req putTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t := Treatment{
		ID:              chi.URLParam(r, "id"),
		Name:            req.Name,
		DurationMinutes: req.DurationMinutes,
		PriceCents:      req.PriceCents,
		Active:          req.Active == nil || *req.Active,
	}
	if err := t.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.store.Upsert(r.Context(), t); err != nil {
		if errors.Is(err, errReadOnly) {
			writeError(w, http.StatusMethodNotAllowed, "catalog is read-only")
			return
		}
		h.logger.Error("upsert treatment failed", "error", err, "treatment_id", t.ID)
		writeError(w, http.StatusServiceUnavailable, "catalog temporarily unavailable")
		return
	}
	h.logger.Info("treatment updated", "treatment_id", t.ID, "price_cents", t.PriceCents,
		"duration_minutes", t.DurationMinutes, "active", t.Active)
	writeJSON(w, http.StatusOK, t)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
