package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
	paymentUniqueIndex   = "appointments_payment_uniq"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxBeginner interface {
	pgxQuerier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresLedger stores appointments in Postgres. WithinDay serializes same-date sections
// with a transaction-scoped advisory lock, and the appointments_no_overlap exclusion
// constraint rejects any overlapping non-cancelled row that gets past it.
type PostgresLedger struct {
	db pgxBeginner
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresLedger{db: pool}
}

func newPostgresLedgerWithDB(db pgxBeginner) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const appointmentColumns = `id, client_id, client_name, client_email, appointment_date, start_minute,
	duration_minutes, treatment_ids, title, total_price_cents, status, notes,
	payment_method, payment_external_id, payment_status, payment_amount_cents, payment_raw,
	created_at, updated_at`

func pgDate(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func listActive(ctx context.Context, q pgxQuerier, date civil.Date) ([]scheduling.Occupancy, error) {
	rows, err := q.Query(ctx, `
		SELECT start_minute, duration_minutes
		FROM appointments
		WHERE appointment_date = $1 AND status <> 'cancelled'
		ORDER BY start_minute
	`, pgDate(date))
	if err != nil {
		return nil, ledgerUnavailable("list active", err)
	}
	defer rows.Close()

	var out []scheduling.Occupancy
	for rows.Next() {
		var start int32
		var duration *int32
		if err := rows.Scan(&start, &duration); err != nil {
			return nil, ledgerUnavailable("scan occupancy", err)
		}
		occ := scheduling.Occupancy{Start: scheduling.TimeOfDay(start)}
		if duration != nil {
			occ.DurationMinutes = int(*duration)
		}
		out = append(out, occ)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgerUnavailable("list active", err)
	}
	return out, nil
}

func (l *PostgresLedger) ListActive(ctx context.Context, date civil.Date) ([]scheduling.Occupancy, error) {
	return listActive(ctx, l.db, date)
}

func (l *PostgresLedger) WithinDay(ctx context.Context, date civil.Date, fn func(ctx context.Context, tx DayTx) error) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return ledgerUnavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "appointments:"+date.String()); err != nil {
		return ledgerUnavailable("lock day", err)
	}
	if err := fn(ctx, &pgDayTx{tx: tx, date: date}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyWriteError("commit", err)
	}
	return nil
}

type pgDayTx struct {
	tx   pgx.Tx
	date civil.Date
}

func (t *pgDayTx) ListActive(ctx context.Context) ([]scheduling.Occupancy, error) {
	return listActive(ctx, t.tx, t.date)
}

func (t *pgDayTx) AppendEvent(ctx context.Context, env events.Envelope) error {
	if err := events.WriteOutbox(ctx, t.tx, env); err != nil {
		return ledgerUnavailable("append event", err)
	}
	return nil
}

func (t *pgDayTx) Insert(ctx context.Context, a Appointment) (Appointment, error) {
	if a.Date != t.date {
		return Appointment{}, fmt.Errorf("appointments: insert for %s inside section for %s", a.Date, t.date)
	}
	var raw []byte
	if len(a.Payment.RawPayload) > 0 {
		raw = a.Payment.RawPayload
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING `+appointmentColumns,
		a.ID, a.ClientID, a.ClientName, a.ClientEmail, pgDate(a.Date), int32(a.Start),
		int32(a.DurationMinutes), a.TreatmentIDs, a.Title, a.TotalPriceCents, string(a.Status), a.Notes,
		string(a.Payment.Method), a.Payment.ExternalID, string(a.Payment.Status), a.Payment.AmountCents, raw,
		a.CreatedAt, a.UpdatedAt,
	)
	saved, err := scanAppointment(row)
	if err != nil {
		return Appointment{}, classifyWriteError("insert", err)
	}
	return saved, nil
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (Appointment, error) {
	row := l.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanOne(row, "get")
}

func (l *PostgresLedger) FindByPayment(ctx context.Context, method payments.Method, externalID string) (Appointment, error) {
	row := l.db.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_method = $1 AND payment_external_id = $2`, string(method), externalID)
	return scanOne(row, "find by payment")
}

func (l *PostgresLedger) ListDay(ctx context.Context, date civil.Date) ([]Appointment, error) {
	rows, err := l.db.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1
		ORDER BY start_minute, created_at`, pgDate(date))
	if err != nil {
		return nil, ledgerUnavailable("list day", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, ledgerUnavailable("scan appointment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgerUnavailable("list day", err)
	}
	return out, nil
}

func (l *PostgresLedger) UpdateStatus(ctx context.Context, id string, to Status, notes string, at time.Time) (Appointment, Status, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return Appointment{}, "", ledgerUnavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	if err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, "", ErrNotFound
		}
		return Appointment{}, "", ledgerUnavailable("lock appointment", err)
	}
	from := Status(current)
	if !from.CanTransition(to) {
		return Appointment{}, from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END,
			updated_at = $4
		WHERE id = $1
		RETURNING `+appointmentColumns, id, string(to), notes, at)
	updated, err := scanAppointment(row)
	if err != nil {
		return Appointment{}, from, ledgerUnavailable("update status", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Appointment{}, from, ledgerUnavailable("commit", err)
	}
	return updated, from, nil
}

func scanOne(row pgx.Row, op string) (Appointment, error) {
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, ledgerUnavailable(op, err)
	}
	return a, nil
}

// scanAppointment reads appointmentColumns. A NULL or non-positive duration is kept as
// zero so Occupancy applies the fallback.
func scanAppointment(row pgx.Row) (Appointment, error) {
	var (
		a                            Appointment
		date                         time.Time
		start                        int32
		duration                     *int32
		status, method, paymentState string
		raw                          []byte
	)
	err := row.Scan(
		&a.ID, &a.ClientID, &a.ClientName, &a.ClientEmail, &date, &start,
		&duration, &a.TreatmentIDs, &a.Title, &a.TotalPriceCents, &status, &a.Notes,
		&method, &a.Payment.ExternalID, &paymentState, &a.Payment.AmountCents, &raw,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return Appointment{}, err
	}
	a.Date = civil.DateOf(date)
	a.Start = scheduling.TimeOfDay(start)
	if duration != nil && *duration > 0 {
		a.DurationMinutes = int(*duration)
	}
	a.Status = Status(status)
	a.Payment.Method = payments.Method(method)
	a.Payment.Status = payments.Status(paymentState)
	if len(raw) > 0 {
		a.Payment.RawPayload = append([]byte(nil), raw...)
	}
	return a, nil
}

// classifyWriteError maps constraint violations to domain errors.
func classifyWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgExclusionViolation:
			return ErrSlotNoLongerAvailable
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == paymentUniqueIndex:
			return ErrDuplicatePayment
		}
	}
	return ledgerUnavailable(op, err)
}

var _ Ledger = (*PostgresLedger)(nil)
