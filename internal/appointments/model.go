// Package appointments turns a paid slot selection into a persisted appointment without
// ever letting two non-cancelled appointments on the same date overlap.
package appointments

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/wolfman30/medspa-booking/internal/catalog"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("appointments: unknown status %q", s)
	}
}

// Active reports whether the appointment still occupies its slot.
func (s Status) Active() bool { return s != StatusCancelled }

// CanTransition reports whether staff may move an appointment from s to next.
// Cancelled and completed are terminal, so a freed slot never becomes occupied again.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment is the confirmation snapshot stored with an appointment.
type Payment struct {
	Method      payments.Method `json:"method"`
	ExternalID  string          `json:"external_id"`
	Status      payments.Status `json:"status"`
	AmountCents int64           `json:"amount_cents"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
}

func paymentFrom(conf payments.Confirmation) Payment {
	return Payment{
		Method:      conf.Method,
		ExternalID:  conf.ExternalID,
		Status:      conf.Status,
		AmountCents: conf.AmountCents,
		RawPayload:  conf.RawPayload,
	}
}

// Appointment is a ledger record. TotalPriceCents is a snapshot taken at booking time.
type Appointment struct {
	ID              string               `json:"id"`
	ClientID        string               `json:"client_id"`
	ClientName      string               `json:"client_name,omitempty"`
	ClientEmail     string               `json:"client_email,omitempty"`
	Date            civil.Date           `json:"date"`
	Start           scheduling.TimeOfDay `json:"start_time"`
	DurationMinutes int                  `json:"duration_minutes"`
	TreatmentIDs    []string             `json:"treatment_ids"`
	Title           string               `json:"title"`
	TotalPriceCents int64                `json:"total_price_cents"`
	Status          Status               `json:"status"`
	Notes           string               `json:"notes,omitempty"`
	Payment         Payment              `json:"payment"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Occupancy is what the slot engine needs to know about the appointment.
func (a Appointment) Occupancy() scheduling.Occupancy {
	return scheduling.Occupancy{Start: a.Start, DurationMinutes: a.DurationMinutes}
}

// Interval is the occupied span, with the fallback applied to unusable durations.
func (a Appointment) Interval() scheduling.Interval {
	return a.Occupancy().Interval()
}

// BookingRequest is a client's paid selection.
type BookingRequest struct {
	ClientID     string                `json:"client_id"`
	ClientName   string                `json:"client_name,omitempty"`
	ClientEmail  string                `json:"client_email,omitempty"`
	Date         civil.Date            `json:"date"`
	Start        scheduling.TimeOfDay  `json:"start_time"`
	TreatmentIDs []string              `json:"treatment_ids"`
	Payment      payments.Confirmation `json:"payment"`
	Notes        string                `json:"notes,omitempty"`
}

// Validate checks the request shape against the clinic-local "now".
func (r BookingRequest) Validate(now time.Time, loc *time.Location) error {
	if !r.Payment.Completed() {
		return fmt.Errorf("%w: status %q", ErrPaymentNotConfirmed, r.Payment.Status)
	}
	if strings.TrimSpace(r.ClientID) == "" {
		return invalidSelection("client id required")
	}
	if len(r.TreatmentIDs) == 0 {
		return invalidSelection("no treatments selected")
	}
	seen := make(map[string]bool, len(r.TreatmentIDs))
	for _, id := range r.TreatmentIDs {
		if strings.TrimSpace(id) == "" {
			return invalidSelection("blank treatment id")
		}
		if seen[id] {
			return invalidSelection("treatment %s selected twice", id)
		}
		seen[id] = true
	}
	if !r.Date.IsValid() {
		return invalidSelection("invalid date %v", r.Date)
	}
	if r.Start < 0 || r.Start >= scheduling.At(24, 0) {
		return invalidSelection("invalid start time %s", r.Start)
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := civil.DateOf(local)
	if r.Date.Before(today) {
		return invalidSelection("date %s is in the past", r.Date)
	}
	if r.Date == today && r.Start <= scheduling.TimeOfDayOf(civil.TimeOf(local)) {
		return invalidSelection("start time %s has already passed", r.Start)
	}
	return nil
}

// Title names a booking: the single treatment, or "first + N others".
func Title(treatments []catalog.Treatment) string {
	switch len(treatments) {
	case 0:
		return ""
	case 1:
		return treatments[0].Name
	case 2:
		return treatments[0].Name + " + 1 other"
	default:
		return fmt.Sprintf("%s + %d others", treatments[0].Name, len(treatments)-1)
	}
}
