package payments

import (
	"context"
	"errors"

	"github.com/wolfman30/medspa-booking/internal/events"
)

// stubInbox mimics the transactional inbox: a failed append leaves the delivery unclaimed.
type stubInbox struct {
	seen       map[string]bool
	aggregates []string
	inserted   []events.CanonicalEvent
	fail       bool
}

func (s *stubInbox) Accept(ctx context.Context, provider, deliveryID, aggregate string, evt events.CanonicalEvent) (bool, error) {
	key := provider + ":" + deliveryID
	if s.seen[key] {
		return true, nil
	}
	if s.fail {
		return false, errors.New("db down")
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	s.seen[key] = true
	s.aggregates = append(s.aggregates, aggregate)
	s.inserted = append(s.inserted, evt)
	return false, nil
}
