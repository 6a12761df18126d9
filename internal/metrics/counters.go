package metrics

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxRoutes bounds the number of distinct routes tallied at once.
const DefaultMaxRoutes = 500

// PageCounts is the per-category request tally.
type PageCounts struct {
	Home  int64 `json:"home"`
	API   int64 `json:"api"`
	Other int64 `json:"other"`
}

// Counters holds the monotonic tallies and the active-connection gauge.
// All methods are safe for concurrent use.
type Counters struct {
	requests  atomic.Int64
	errors    atomic.Int64
	successes atomic.Int64
	events    atomic.Int64
	active    atomic.Int64

	home  atomic.Int64
	api   atomic.Int64
	other atomic.Int64

	routes        *lru.Cache[string, *atomic.Uint64]
	routesEvicted atomic.Int64
}

// NewCounters creates zeroed counters. maxRoutes below 1 falls back to DefaultMaxRoutes.
// When more than maxRoutes distinct routes are seen, the least recently observed route is dropped.
func NewCounters(maxRoutes int) *Counters {
	if maxRoutes < 1 {
		maxRoutes = DefaultMaxRoutes
	}
	c := &Counters{}
	routes, err := lru.NewWithEvict[string, *atomic.Uint64](maxRoutes, func(string, *atomic.Uint64) {
		c.routesEvicted.Add(1)
	})
	if err != nil {
		// Only returned for a non-positive size, which is ruled out above.
		panic(err)
	}
	c.routes = routes
	return c
}

// Enter marks one unit of work as in flight.
func (c *Counters) Enter() {
	c.active.Add(1)
}

// Exit releases one in-flight unit of work. The gauge never drops below zero.
func (c *Counters) Exit() {
	for {
		cur := c.active.Load()
		if cur <= 0 {
			return
		}
		if c.active.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// RecordOutcome counts one completed request against its route and page category.
func (c *Counters) RecordOutcome(route string, success bool) {
	c.requests.Add(1)
	if success {
		c.successes.Add(1)
	} else {
		c.errors.Add(1)
	}
	switch Classify(route) {
	case PageHome:
		c.home.Add(1)
	case PageAPI:
		c.api.Add(1)
	default:
		c.other.Add(1)
	}
	c.ObserveRoute(route)
}

// RecordEvent counts a named event. Events only touch the route tally and event count.
func (c *Counters) RecordEvent(name string) {
	c.events.Add(1)
	c.ObserveRoute(name)
}

// ObserveRoute increments the tally for route.
func (c *Counters) ObserveRoute(route string) {
	if counter, ok := c.routes.Get(route); ok {
		counter.Add(1)
		return
	}
	counter := new(atomic.Uint64)
	counter.Store(1)
	if prev, found, _ := c.routes.PeekOrAdd(route, counter); found {
		prev.Add(1)
	}
}

// Requests returns the number of completed units of work.
func (c *Counters) Requests() int64 { return c.requests.Load() }

// Errors returns the number of failed units of work.
func (c *Counters) Errors() int64 { return c.errors.Load() }

// Successes returns the number of successful units of work.
func (c *Counters) Successes() int64 { return c.successes.Load() }

// Events returns the number of recorded events.
func (c *Counters) Events() int64 { return c.events.Load() }

// Active returns the number of units of work in flight.
func (c *Counters) Active() int64 { return c.active.Load() }

// Pages returns the current per-category tally.
func (c *Counters) Pages() PageCounts {
	return PageCounts{
		Home:  c.home.Load(),
		API:   c.api.Load(),
		Other: c.other.Load(),
	}
}

// Routes returns a copy of the route tally.
func (c *Counters) Routes() map[string]uint64 {
	keys := c.routes.Keys()
	out := make(map[string]uint64, len(keys))
	for _, k := range keys {
		if counter, ok := c.routes.Peek(k); ok {
			out[k] = counter.Load()
		}
	}
	return out
}

// RoutesEvicted returns how many routes were dropped to respect the route cap.
func (c *Counters) RoutesEvicted() int64 {
	return c.routesEvicted.Load()
}
