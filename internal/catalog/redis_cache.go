package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

const defaultCacheTTL = 5 * time.Minute

// CachedLookup is a read-through redis cache in front of another Lookup.
// Redis failures degrade to the underlying lookup. Writes made through Upsert
// drop the cached entry; writes that bypass it stay stale for up to ttl.
type CachedLookup struct {
	next   Lookup
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedLookup(next Lookup, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedLookup {
	if next == nil {
		panic("catalog: underlying lookup required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedLookup{next: next, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedLookup) key(id string) string {
	return fmt.Sprintf("catalog:treatment:%s", id)
}

func (c *CachedLookup) ResolveTreatments(ctx context.Context, ids []string) ([]Treatment, error) {
	if c.redis == nil || len(ids) == 0 {
		return c.next.ResolveTreatments(ctx, ids)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("catalog cache read failed", "error", err)
		return c.next.ResolveTreatments(ctx, ids)
	}

	found := make(map[string]Treatment, len(ids))
	var misses []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		var t Treatment
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			misses = append(misses, ids[i])
			continue
		}
		found[ids[i]] = t
	}

	if len(misses) > 0 {
		fetched, err := c.next.ResolveTreatments(ctx, misses)
		if err != nil {
			var nf *NotFoundError
			if !errors.As(err, &nf) {
				return nil, err
			}
			// Re-resolve everything so the miss list covers cached ids too.
			return c.next.ResolveTreatments(ctx, ids)
		}
		pipe := c.redis.Pipeline()
		for _, t := range fetched {
			found[t.ID] = t
			data, err := json.Marshal(t)
			if err != nil {
				continue
			}
			pipe.Set(ctx, c.key(t.ID), data, c.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Warn("catalog cache write failed", "error", err)
		}
	}
	return order(ids, found)
}

// Invalidate drops cached definitions, e.g. after a price change.
func (c *CachedLookup) Invalidate(ctx context.Context, ids ...string) error {
	if c.redis == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("catalog: invalidate cache: %w", err)
	}
	return nil
}

var errReadOnly = errors.New("catalog: underlying lookup is read-only")

// Upsert writes through to the underlying store and then evicts the cached copy.
// A failed eviction is logged, not returned: the write itself succeeded.
func (c *CachedLookup) Upsert(ctx context.Context, t Treatment) error {
	store, ok := c.next.(Store)
	if !ok {
		return errReadOnly
	}
	if err := store.Upsert(ctx, t); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, t.ID); err != nil {
		c.logger.Warn("catalog cache eviction failed; entry stays stale until it expires",
			"error", err, "treatment_id", t.ID, "ttl", c.ttl)
	}
	return nil
}

// List is never cached.
func (c *CachedLookup) List(ctx context.Context) ([]Treatment, error) {
	store, ok := c.next.(Store)
	if !ok {
		return nil, errReadOnly
	}
	return store.List(ctx)
}

var _ Store = (*CachedLookup)(nil)
