package events

import "time"

// AppointmentBookedV1 is emitted once per committed booking.
type AppointmentBookedV1 struct {
	AppointmentID     string    `json:"appointment_id"`
	Date              string    `json:"date"`
	StartTime         string    `json:"start_time"`
	DurationMinutes   int       `json:"duration_minutes"`
	TreatmentIDs      []string  `json:"treatment_ids"`
	Title             string    `json:"title"`
	TotalPriceCents   int64     `json:"total_price_cents"`
	ClientName        string    `json:"client_name,omitempty"`
	ClientEmail       string    `json:"client_email,omitempty"`
	PaymentMethod     string    `json:"payment_method"`
	PaymentExternalID string    `json:"payment_external_id"`
	PaymentCents      int64     `json:"payment_amount_cents"`
	BookedAt          time.Time `json:"booked_at"`
}

func (AppointmentBookedV1) EventType() string { return "appointments.booked.v1" }

// AppointmentUpdatedV1 records a staff status transition.
type AppointmentUpdatedV1 struct {
	AppointmentID string    `json:"appointment_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	FromStatus    string    `json:"from_status"`
	ToStatus      string    `json:"to_status"`
	Notes         string    `json:"notes,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (AppointmentUpdatedV1) EventType() string { return "appointments.updated.v1" }

// PaymentConfirmedV1 is emitted for every provider webhook we accept.
type PaymentConfirmedV1 struct {
	Provider        string    `json:"provider"`
	ProviderRef     string    `json:"provider_ref"`
	ProviderEventID string    `json:"provider_event_id"`
	Status          string    `json:"status"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func (PaymentConfirmedV1) EventType() string { return "payments.confirmed.v1" }

// PaidBookingFailedV1 flags a captured payment whose booking could not be written.
// Consumers refund or book manually.
type PaidBookingFailedV1 struct {
	Provider     string    `json:"provider"`
	ProviderRef  string    `json:"provider_ref"`
	AmountCents  int64     `json:"amount_cents"`
	Date         string    `json:"date"`
	StartTime    string    `json:"start_time"`
	TreatmentIDs []string  `json:"treatment_ids"`
	ClientName   string    `json:"client_name,omitempty"`
	ClientEmail  string    `json:"client_email,omitempty"`
	Reason       string    `json:"reason"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (PaidBookingFailedV1) EventType() string { return "appointments.paid_booking_failed.v1" }
