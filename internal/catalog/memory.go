package catalog

import (
	"context"
	"sort"
	"sync"
)

// InMemoryCatalog keeps treatments in a map. Used for development and tests.
type InMemoryCatalog struct {
	mu         sync.RWMutex
	treatments map[string]Treatment
}

func NewInMemoryCatalog(seed ...Treatment) *InMemoryCatalog {
	c := &InMemoryCatalog{treatments: make(map[string]Treatment, len(seed))}
	for _, t := range seed {
		c.treatments[t.ID] = t
	}
	return c
}

// Upsert adds or replaces a definition, e.g. a price change.
func (c *InMemoryCatalog) Upsert(_ context.Context, t Treatment) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.treatments[t.ID] = t
	return nil
}

func (c *InMemoryCatalog) ResolveTreatments(_ context.Context, ids []string) ([]Treatment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	found := make(map[string]Treatment, len(ids))
	for _, id := range ids {
		if t, ok := c.treatments[id]; ok {
			found[id] = t
		}
	}
	return order(ids, found)
}

// List returns active treatments sorted by name.
func (c *InMemoryCatalog) List(_ context.Context) ([]Treatment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Treatment, 0, len(c.treatments))
	for _, t := range c.treatments {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var _ Store = (*InMemoryCatalog)(nil)
