package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// CanonicalEvent is a versioned booking or payment event.
type CanonicalEvent interface {
	EventType() string
}

// Envelope is the wire form of an event in the outbox, on SQS and on Kafka.
// Aggregate is "appointment:<id>" or "payment:<method>:<external id>".
type Envelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	EventType  string          `json:"event_type"`
	Aggregate  string          `json:"aggregate"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
}

const (
	appointmentPrefix = "appointment:"
	paymentPrefix     = "payment:"
)

// AppointmentAggregate keys events about one appointment.
func AppointmentAggregate(appointmentID string) string {
	return appointmentPrefix + appointmentID
}

// PaymentAggregate keys events about one provider payment, so a webhook and a
// failed booking for the same charge land on the same Kafka partition.
func PaymentAggregate(method, externalID string) string {
	return paymentPrefix + method + ":" + externalID
}

// AppointmentID returns the appointment an envelope belongs to, if any.
func (e Envelope) AppointmentID() (string, bool) {
	id, ok := strings.CutPrefix(e.Aggregate, appointmentPrefix)
	return id, ok && id != ""
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: event required")
)

// Seal wraps evt in an envelope recorded at the given instant.
func Seal(aggregate string, evt CanonicalEvent, at time.Time) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		return Envelope{}, errMissingAggregate
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, fmt.Errorf("events: %T has no event type", evt)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	return Envelope{
		EventID:    uuid.New(),
		EventType:  eventType,
		Aggregate:  aggregate,
		RecordedAt: at.UTC(),
		Payload:    payload,
	}, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertOutboxSQL = `
	INSERT INTO outbox (id, aggregate, event_type, payload, created_at)
	VALUES ($1, $2, $3, $4, $5)
`

// WriteOutbox stores env as a pending outbox row. exec may be an open pgx.Tx, in
// which case the row commits or rolls back with the caller's write.
func WriteOutbox(ctx context.Context, exec execer, env Envelope) error {
	if exec == nil {
		return errors.New("events: exec required")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	if _, err := exec.Exec(ctx, insertOutboxSQL, env.EventID, env.Aggregate, env.EventType, data, env.RecordedAt); err != nil {
		return fmt.Errorf("events: write outbox %s: %w", env.EventType, err)
	}
	return nil
}
