package appointments

import (
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wolfman30/medspa-booking/internal/clock"
	"github.com/wolfman30/medspa-booking/internal/scheduling"
)

type occupancyEntry struct {
	occupancy []scheduling.Occupancy
	loadedAt  time.Time
}

const generationStripes = 64

var generationEpoch = civil.Date{Year: 1970, Month: time.January, Day: 1}

// AvailabilityCache memoizes ListActive per date for the availability read path.
// Booking never reads from it: the commit path always re-reads the ledger.
//
// Every Invalidate bumps a generation counter for the date's stripe. A loader takes
// a token with Begin before reading the ledger and Put drops the load when the
// generation moved in between, so a read that raced a booking is never cached.
type AvailabilityCache struct {
	cache *lru.Cache[civil.Date, occupancyEntry]
	ttl   time.Duration
	clock clock.Clock

	mu          sync.Mutex
	generations [generationStripes]uint64
}

// NewAvailabilityCache builds a cache holding up to size dates. Entries older than ttl
// are reloaded so writes made by other processes show up eventually.
func NewAvailabilityCache(size int, ttl time.Duration, clk clock.Clock) (*AvailabilityCache, error) {
	c, err := lru.New[civil.Date, occupancyEntry](size)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System()
	}
	return &AvailabilityCache{cache: c, ttl: ttl, clock: clk}, nil
}

func (c *AvailabilityCache) Get(date civil.Date) ([]scheduling.Occupancy, bool) {
	if c == nil {
		return nil, false
	}
	entry, ok := c.cache.Get(date)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(entry.loadedAt) > c.ttl {
		c.cache.Remove(date)
		return nil, false
	}
	return slices.Clone(entry.occupancy), true
}

func stripeOf(date civil.Date) int {
	n := date.DaysSince(generationEpoch) % generationStripes
	if n < 0 {
		n += generationStripes
	}
	return n
}

// Begin returns the token a loader passes to Put once its ledger read finishes.
func (c *AvailabilityCache) Begin(date civil.Date) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[stripeOf(date)]
}

// Put stores occ unless date was invalidated after token was taken. It reports
// whether the entry was stored.
func (c *AvailabilityCache) Put(date civil.Date, occ []scheduling.Occupancy, token uint64) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[stripeOf(date)] != token {
		return false
	}
	c.cache.Add(date, occupancyEntry{occupancy: slices.Clone(occ), loadedAt: c.clock.Now()})
	return true
}

func (c *AvailabilityCache) Invalidate(date civil.Date) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[stripeOf(date)]++
	c.cache.Remove(date)
}

func (c *AvailabilityCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
