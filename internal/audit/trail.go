// Package audit keeps an append-only record of who changed which appointment.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action names what happened to an appointment.
type Action string

const (
	ActionBooked        Action = "appointment.booked"
	ActionStatusChanged Action = "appointment.status_changed"
	// ActionPaidBookingFailed is logged when a captured payment could not be turned into a booking.
	ActionPaidBookingFailed Action = "appointment.paid_booking_failed"
)

// Entry is an immutable audit record.
type Entry struct {
	ID            string          `json:"id"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	Action        Action          `json:"action"`
	FromStatus    string          `json:"from_status,omitempty"`
	ToStatus      string          `json:"to_status,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Trail writes entries to the appointment_audit table.
type Trail struct {
	db *sql.DB
}

func NewTrail(db *sql.DB) *Trail {
	return &Trail{db: db}
}

// Record appends an entry.
func (t *Trail) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var details any
	if len(e.Details) > 0 {
		details = []byte(e.Details)
	}

	query := `
		INSERT INTO appointment_audit (
			id, appointment_id, action, from_status, to_status, actor, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.db.ExecContext(ctx, query,
		e.ID,
		nullString(e.AppointmentID),
		e.Action,
		nullString(e.FromStatus),
		nullString(e.ToStatus),
		nullString(e.Actor),
		details,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record entry: %w", err)
	}
	return nil
}

// Filter narrows History queries.
type Filter struct {
	AppointmentID string
	Action        Action
	Since         time.Time
	Limit         int
}

// History returns matching entries, newest first.
func (t *Trail) History(ctx context.Context, f Filter) ([]Entry, error) {
	query := `
		SELECT id, appointment_id, action, from_status, to_status, actor, details, created_at
		FROM appointment_audit
		WHERE 1 = 1
	`
	var args []any
	if f.AppointmentID != "" {
		args = append(args, f.AppointmentID)
		query += fmt.Sprintf(" AND appointment_id = $%d", len(args))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var apptID, from, to, actor sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &apptID, &e.Action, &from, &to, &actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan entry: %w", err)
		}
		e.AppointmentID = apptID.String
		e.FromStatus = from.String
		e.ToStatus = to.String
		e.Actor = actor.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
