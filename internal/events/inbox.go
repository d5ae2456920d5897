package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/medspa-booking/internal/clock"
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WebhookInbox admits each provider webhook delivery once. The delivery claim and
// the outbox row it produces commit together, so a crash between them cannot drop
// a payment event or mark a delivery handled without one.
type WebhookInbox struct {
	db    txBeginner
	clock clock.Clock
}

func NewWebhookInbox(pool *pgxpool.Pool) *WebhookInbox {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return newWebhookInbox(pool)
}

func newWebhookInbox(db txBeginner) *WebhookInbox {
	return &WebhookInbox{db: db, clock: clock.System()}
}

// WithClock stamps claims and envelopes from clk.
func (i *WebhookInbox) WithClock(clk clock.Clock) *WebhookInbox {
	if clk != nil {
		i.clock = clk
	}
	return i
}

const claimDeliverySQL = `
	INSERT INTO processed_events (provider, event_id, processed_at)
	VALUES ($1, $2, $3)
	ON CONFLICT DO NOTHING
`

// Accept claims deliveryID for provider and appends evt under aggregate. A
// delivery that was claimed before reports duplicate and writes nothing.
func (i *WebhookInbox) Accept(ctx context.Context, provider, deliveryID, aggregate string, evt CanonicalEvent) (duplicate bool, err error) {
	at := i.clock.Now().UTC()
	env, err := Seal(aggregate, evt, at)
	if err != nil {
		return false, err
	}

	tx, err := i.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("events: begin inbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, claimDeliverySQL, provider, deliveryID, at)
	if err != nil {
		return false, fmt.Errorf("events: claim %s delivery %s: %w", provider, deliveryID, err)
	}
	if ct.RowsAffected() == 0 {
		return true, nil
	}
	if err := WriteOutbox(ctx, tx, env); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("events: commit inbox tx: %w", err)
	}
	return false, nil
}
