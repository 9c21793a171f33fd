package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dataplane-io/dataplane-engine/pkg/config"
	"github.com/dataplane-io/dataplane-engine/pkg/logging"
	"github.com/dataplane-io/dataplane-engine/pkg/models"
	"github.com/dataplane-io/dataplane-engine/pkg/observability"
)

// CacheStats is the counter snapshot returned by Stats.
type CacheStats struct {
	Entries   int     `json:"entries"`
	HitCount  int64   `json:"hit_count"`
	MissCount int64   `json:"miss_count"`
	HitRate   float64 `json:"hit_rate"`
}

// PopularQuery aggregates history entries by query text.
type PopularQuery struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// QueryCache stores masked query results keyed by derived cache keys, with
// TTL expiry and oldest-by-insertion eviction, plus per-user query history.
type QueryCache interface {
	Get(key string) (*models.TableQueryResult, bool)
	Put(key string, result *models.TableQueryResult, ttl time.Duration)
	InvalidateUser(userID string) int
	InvalidateAll()
	Stats() CacheStats

	RecordHistory(entry models.QueryHistoryEntry)
	History(userID string, limit int) []models.QueryHistoryEntry
	PopularQueries(limit int) []PopularQuery

	// StartCleanup runs a periodic expired-entry sweep until ctx is done.
	// Optional; expiry is already enforced lazily on Get.
	StartCleanup(ctx context.Context, interval time.Duration)
}

type cacheEntry struct {
	result    *models.TableQueryResult
	cachedAt  time.Time
	expiresAt time.Time
	hits      int64
}

type queryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	history map[string][]models.QueryHistoryEntry

	maxEntries  int
	defaultTTL  time.Duration
	historySize int

	hitCount  int64
	missCount int64

	// now is injectable for TTL tests.
	now func() time.Time

	logger *zap.Logger
}

// NewQueryCache creates a cache sized and aged per the configuration.
func NewQueryCache(cfg config.CacheConfig, logger *zap.Logger) QueryCache {
	return &queryCache{
		entries:     make(map[string]*cacheEntry),
		history:     make(map[string][]models.QueryHistoryEntry),
		maxEntries:  cfg.MaxEntries,
		defaultTTL:  cfg.DefaultTTL(),
		historySize: cfg.HistorySize,
		now:         time.Now,
		logger:      logger.Named("query-cache"),
	}
}

var _ QueryCache = (*queryCache)(nil)

func (c *queryCache) Get(key string) (*models.TableQueryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.missCount++
		observability.CacheMissesTotal.Inc()
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		// Lazy expiry: an expired entry is removed and counts as a miss.
		delete(c.entries, key)
		c.missCount++
		observability.CacheMissesTotal.Inc()
		return nil, false
	}

	entry.hits++
	c.hitCount++
	observability.CacheHitsTotal.Inc()

	result := copyResult(entry.result)
	result.FromCache = true
	return result, true
}

// copyResult detaches the struct and the row slice from the caller. Row maps
// stay shared: they hold post-mask values and are treated as immutable.
func copyResult(result *models.TableQueryResult) *models.TableQueryResult {
	copied := *result
	copied.Data = append([]map[string]any(nil), result.Data...)
	return &copied
}

func (c *queryCache) Put(key string, result *models.TableQueryResult, ttl time.Duration) {
	if ttl < 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	now := c.now()
	c.entries[key] = &cacheEntry{
		// Stored copy is independent of whatever the caller does with the
		// result it keeps holding.
		result:    copyResult(result),
		cachedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

// evictOldestLocked removes the single oldest-by-insertion entry.
// Insertion time only, not LRU. Must be called with the lock held.
func (c *queryCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.cachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		observability.CacheEvictionsTotal.Inc()
		c.logger.Debug("evicted oldest cache entry", zap.String("key", logging.SanitizeQuery(oldestKey)))
	}
}

func (c *queryCache) InvalidateUser(userID string) int {
	prefix := UserKeyPrefix(userID)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("invalidated user cache entries",
			zap.String("user_id", userID),
			zap.Int("removed", removed))
	}
	return removed
}

func (c *queryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.logger.Info("invalidated all cache entries")
}

func (c *queryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Entries:   len(c.entries),
		HitCount:  c.hitCount,
		MissCount: c.missCount,
	}
	if total := c.hitCount + c.missCount; total > 0 {
		stats.HitRate = float64(c.hitCount) / float64(total)
	}
	return stats
}

func (c *queryCache) RecordHistory(entry models.QueryHistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := append(c.history[entry.UserID], entry)
	if len(ring) > c.historySize {
		ring = ring[len(ring)-c.historySize:]
	}
	c.history[entry.UserID] = ring
}

func (c *queryCache) History(userID string, limit int) []models.QueryHistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := c.history[userID]
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}

	// Most recent first.
	result := make([]models.QueryHistoryEntry, 0, limit)
	for i := len(ring) - 1; i >= len(ring)-limit; i-- {
		result = append(result, ring[i])
	}
	return result
}

func (c *queryCache) PopularQueries(limit int) []PopularQuery {
	c.mu.Lock()
	counts := make(map[string]int)
	for _, ring := range c.history {
		for _, entry := range ring {
			counts[entry.Query]++
		}
	}
	c.mu.Unlock()

	popular := make([]PopularQuery, 0, len(counts))
	for query, count := range counts {
		popular = append(popular, PopularQuery{Query: query, Count: count})
	}
	sort.Slice(popular, func(i, j int) bool {
		if popular[i].Count != popular[j].Count {
			return popular[i].Count > popular[j].Count
		}
		return popular[i].Query < popular[j].Query
	})

	if limit > 0 && limit < len(popular) {
		popular = popular[:limit]
	}
	return popular
}

func (c *queryCache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweepExpired()
			}
		}
	}()
}

func (c *queryCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("swept expired cache entries", zap.Int("removed", removed))
	}
}
