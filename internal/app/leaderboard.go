package app

import (
	"strconv"
	"sync"
	"time"

	"polyburg/internal/model"

	"golang.org/x/sync/singleflight"
)

// LeaderboardSource computes a fresh leaderboard. Implemented by
// store.Store.
type LeaderboardSource interface {
	Leaderboard(windowHours float64) []model.LeaderboardEntry
}

type cachedLeaderboard struct {
	entries    []model.LeaderboardEntry
	computedAt time.Time
}

// LeaderboardCache serves leaderboards per window, recomputing a window at
// most once per TTL. Ingestion does not invalidate it, so results can lag
// the store by up to one TTL.
type LeaderboardCache struct {
	source  LeaderboardSource
	ttl     time.Duration
	windows []float64
	now     func() time.Time

	mu    sync.RWMutex
	cache map[float64]cachedLeaderboard
	group singleflight.Group
}

func NewLeaderboardCache(source LeaderboardSource, ttl time.Duration, windows []float64) *LeaderboardCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if len(windows) == 0 {
		windows = []float64{24, 168, 720}
	}
	return &LeaderboardCache{
		source:  source,
		ttl:     ttl,
		windows: windows,
		now:     time.Now,
		cache:   make(map[float64]cachedLeaderboard),
	}
}

// Get returns the leaderboard for windowHours, from cache when fresh. The
// returned slice is the caller's to modify.
func (c *LeaderboardCache) Get(windowHours float64) []model.LeaderboardEntry {
	c.mu.RLock()
	cached, ok := c.cache[windowHours]
	c.mu.RUnlock()
	if ok && c.now().Sub(cached.computedAt) < c.ttl {
		return cloneEntries(cached.entries)
	}

	// Concurrent misses for one window share a single computation.
	key := strconv.FormatFloat(windowHours, 'g', -1, 64)
	v, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.cache[windowHours]
		c.mu.RUnlock()
		if ok && c.now().Sub(cached.computedAt) < c.ttl {
			return cached.entries, nil
		}

		entries := c.source.Leaderboard(windowHours)
		c.mu.Lock()
		c.cache[windowHours] = cachedLeaderboard{entries: entries, computedAt: c.now()}
		c.mu.Unlock()
		return entries, nil
	})
	return cloneEntries(v.([]model.LeaderboardEntry))
}

func cloneEntries(entries []model.LeaderboardEntry) []model.LeaderboardEntry {
	out := make([]model.LeaderboardEntry, len(entries))
	copy(out, entries)
	return out
}

// Defaults returns the leaderboards for every configured window, in
// configuration order.
func (c *LeaderboardCache) Defaults() []model.WindowLeaderboard {
	out := make([]model.WindowLeaderboard, 0, len(c.windows))
	for _, w := range c.windows {
		out = append(out, model.WindowLeaderboard{WindowHours: w, Entries: c.Get(w)})
	}
	return out
}

// TTL returns how long a computed window stays fresh.
func (c *LeaderboardCache) TTL() time.Duration {
	return c.ttl
}

// Windows returns the configured default windows.
func (c *LeaderboardCache) Windows() []float64 {
	return append([]float64(nil), c.windows...)
}
