// Package pathcache holds the two-level srcID -> dstID -> Path cache that
// sits in front of the Graph Store's shortest-path computation. It is
// reader/writer protected and uses golang.org/x/sync/singleflight to
// collapse concurrent misses for the same (src,dst) pair into a single
// compute: every caller, winner or follower, observes the same *Path
// pointer, so the loser's result is simply never published rather than
// raced against the winner's.
package pathcache

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okdaichi/shadowsim/internal/observability"
	"github.com/okdaichi/shadowsim/internal/shadowaddr"
)

var metricsRecorder = observability.NewRecorder("pathcache")

// Cache is the path cache. The zero value is not usable; construct with New.
type Cache struct {
	mu      sync.RWMutex
	entries map[shadowaddr.ID]map[shadowaddr.ID]*shadowaddr.Path

	group singleflight.Group
	log   *slog.Logger
}

// New constructs an empty path cache.
func New(log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		entries: make(map[shadowaddr.ID]map[shadowaddr.ID]*shadowaddr.Path),
		log:     log,
	}
}

// Lookup acquires a reader lock and returns the cached Path for (src,dst),
// if any.
func (c *Cache) Lookup(src, dst shadowaddr.ID) (*shadowaddr.Path, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byDst, ok := c.entries[src]
	if !ok {
		return nil, false
	}
	p, ok := byDst[dst]
	return p, ok
}

// GetOrCompute returns the cached Path for (src,dst) if present; otherwise
// it runs compute exactly once across any concurrently racing callers for
// the same key and publishes the winner's result. hit reports whether the
// value was already cached before this call.
func (c *Cache) GetOrCompute(src, dst shadowaddr.ID, compute func() (*shadowaddr.Path, error)) (p *shadowaddr.Path, hit bool, err error) {
	if p, ok := c.Lookup(src, dst); ok {
		metricsRecorder.CacheHit()
		return p, true, nil
	}
	metricsRecorder.CacheMiss()

	key := strconv.FormatUint(uint64(src), 10) + ":" + strconv.FormatUint(uint64(dst), 10)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if p, ok := c.Lookup(src, dst); ok {
			return p, nil
		}
		path, err := compute()
		if err != nil {
			return nil, err
		}
		return c.insert(src, dst, path), nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*shadowaddr.Path), false, nil
}

// insert publishes p for (src,dst) under the writer lock. If a concurrent
// insert already won the race, the existing entry is kept and p is
// discarded — at-most-once-effective publication. Returns whichever *Path
// is now authoritative for the key.
func (c *Cache) insert(src, dst shadowaddr.ID, p *shadowaddr.Path) *shadowaddr.Path {
	c.mu.Lock()
	defer c.mu.Unlock()

	byDst, ok := c.entries[src]
	if !ok {
		byDst = make(map[shadowaddr.ID]*shadowaddr.Path)
		c.entries[src] = byDst
	}
	if existing, ok := byDst[dst]; ok {
		return existing
	}
	byDst[dst] = p
	return p
}

// Clear drops every cached entry under the writer lock and logs cumulative
// shortest-path CPU time, reported by the caller (the Graph Store owns the
// timer since it is the component that actually runs Dijkstra).
func (c *Cache) Clear(shortestPathTotal time.Duration) {
	c.mu.Lock()
	n := 0
	for _, byDst := range c.entries {
		n += len(byDst)
	}
	c.entries = make(map[shadowaddr.ID]map[shadowaddr.ID]*shadowaddr.Path)
	c.mu.Unlock()

	c.log.Info("pathcache: cleared", "entries", n, "shortest_path_total_time", shortestPathTotal)
}
