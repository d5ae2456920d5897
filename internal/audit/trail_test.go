package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrail_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	trail := NewTrail(db)

	tests := []struct {
		name  string
		entry Entry
	}{
		{
			name: "status change",
			entry: Entry{
				AppointmentID: "appt-1",
				Action:        ActionStatusChanged,
				FromStatus:    "confirmed",
				ToStatus:      "cancelled",
				Actor:         "staff@clinic.test",
			},
		},
		{
			name: "paid booking failure without appointment",
			entry: Entry{
				Action:  ActionPaidBookingFailed,
				Details: json.RawMessage(`{"payment_id":"pi_1"}`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO appointment_audit").
				WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), tt.entry.Action, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))
			assert.NoError(t, trail.Record(context.Background(), tt.entry))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrail_RecordError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO appointment_audit").WillReturnError(errors.New("connection reset"))
	err = NewTrail(db).Record(context.Background(), Entry{Action: ActionBooked, AppointmentID: "a"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "audit: failed to record entry")
}

func TestTrail_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "appointment_id", "action", "from_status", "to_status", "actor", "details", "created_at",
	}).AddRow(
		"e-1", "appt-1", ActionStatusChanged, "confirmed", "completed", nil, nil, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM appointment_audit WHERE 1 = 1 AND appointment_id = \\$1").
		WithArgs("appt-1").
		WillReturnRows(rows)

	entries, err := NewTrail(db).History(context.Background(), Filter{AppointmentID: "appt-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "completed", entries[0].ToStatus)
	assert.Empty(t, entries[0].Actor)
	assert.NoError(t, mock.ExpectationsWereMet())
}
