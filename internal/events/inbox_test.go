package events

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/medspa-booking/internal/clock"
)

var inboxNow = time.Date(2025, 3, 14, 15, 4, 5, 0, time.UTC)

func newMockInbox(t *testing.T) (*WebhookInbox, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return newWebhookInbox(mock).WithClock(clock.Fixed(inboxNow)), mock
}

func confirmed(ref string) PaymentConfirmedV1 {
	return PaymentConfirmedV1{Provider: "square", ProviderRef: ref, ProviderEventID: "evt", Status: "completed", AmountCents: 2500}
}

func TestWebhookInboxClaimsAndAppendsTogether(t *testing.T) {
	inbox, mock := newMockInbox(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("square", "evt", inboxNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "payment:square:p1", "payments.confirmed.v1", pgxmock.AnyArg(), inboxNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	duplicate, err := inbox.Accept(context.Background(), "square", "evt", PaymentAggregate("square", "p1"), confirmed("p1"))
	if err != nil || duplicate {
		t.Fatalf("expected fresh delivery, got duplicate=%v err=%v", duplicate, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookInboxSkipsClaimedDelivery(t *testing.T) {
	inbox, mock := newMockInbox(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("square", "evt", inboxNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	duplicate, err := inbox.Accept(context.Background(), "square", "evt", PaymentAggregate("square", "p1"), confirmed("p1"))
	if err != nil || !duplicate {
		t.Fatalf("expected duplicate, got duplicate=%v err=%v", duplicate, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookInboxOutboxFailureReleasesClaim(t *testing.T) {
	inbox, mock := newMockInbox(t)
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("square", "evt", inboxNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnError(boom)
	mock.ExpectRollback()

	duplicate, err := inbox.Accept(context.Background(), "square", "evt", PaymentAggregate("square", "p1"), confirmed("p1"))
	if !errors.Is(err, boom) || duplicate {
		t.Fatalf("expected outbox error, got duplicate=%v err=%v", duplicate, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookInboxRejectsBadEventBeforeBegin(t *testing.T) {
	inbox, mock := newMockInbox(t)

	if _, err := inbox.Accept(context.Background(), "stripe", "evt_1", "", confirmed("pi_1")); err == nil {
		t.Fatal("expected aggregate error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no database calls expected: %v", err)
	}
}
