package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/similarity"
	"github.com/topoquery/backend/internal/store"
	"github.com/topoquery/backend/pkg/logger"
	"github.com/topoquery/backend/pkg/utils"
)

// persistence is the subset of the relational store the cache needs. Nil
// persistence keeps the cache purely in memory.
type persistence interface {
	InsertCacheRow(row *store.CacheRow) (int64, error)
	UpdateCacheHitCount(id, hitCount int64) error
	DeleteCacheRow(id int64) error
	ClearCacheRows() error
	ListCacheRows() ([]store.CacheRow, error)
}

// Hit is a served cache entry plus the similarity that matched it.
type Hit struct {
	Answer   string
	Query    string
	Question string
	Score    float64
}

// Cache is the embedding-keyed answer cache. Lookup returns the single best
// entry at or above the threshold; entries are append-and-evict, never edited
// in place. Capacity is LRU-bounded so memory growth is capped regardless of
// traffic.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[int64, *store.CacheRow]
	db      persistence

	metric    similarity.Metric
	threshold float64

	bypass map[string]map[string]struct{}
	nextID int64
}

func New(db persistence, capacity int, metric similarity.Metric, threshold float64) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1000
	}

	c := &Cache{
		db:        db,
		metric:    metric,
		threshold: threshold,
		bypass:    make(map[string]map[string]struct{}),
	}

	entries, err := lru.NewWithEvict[int64, *store.CacheRow](capacity, func(id int64, _ *store.CacheRow) {
		if c.db != nil {
			if err := c.db.DeleteCacheRow(id); err != nil {
				logger.Warn("Failed to delete evicted cache row", zap.Int64("id", id), zap.Error(err))
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	c.entries = entries

	return c, nil
}

// Load rebuilds the in-memory cache from persisted rows at startup.
func (c *Cache) Load() error {
	if c.db == nil {
		return nil
	}
	rows, err := c.db.ListCacheRows()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range rows {
		row := rows[i]
		c.entries.Add(row.ID, &row)
		if row.ID >= c.nextID {
			c.nextID = row.ID + 1
		}
	}
	logger.Info("Query cache loaded", zap.Int("entries", len(rows)))
	return nil
}

// Lookup searches all entries for the best match. A session that has marked
// this exact question for bypass always misses, so a corrected answer is
// never replayed stale to the user who corrected it.
func (c *Cache) Lookup(ctx context.Context, questionEmbedding []float32, sessionID, question string) (*Hit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sessionID != "" {
		if marks, ok := c.bypass[sessionID]; ok {
			if _, ok := marks[utils.HashString(question)]; ok {
				logger.Debug("Cache bypassed for session", zap.String("session", sessionID))
				return nil, false
			}
		}
	}

	var (
		best      *store.CacheRow
		bestScore float64
		malformed []int64
	)

	for _, id := range c.entries.Keys() {
		row, ok := c.entries.Peek(id)
		if !ok {
			continue
		}
		score, err := similarity.Score(c.metric, questionEmbedding, row.Embedding)
		if err != nil {
			// CacheInconsistent: skip and queue for eviction, never fatal.
			logger.Warn("Skipping inconsistent cache entry",
				zap.Int64("id", id),
				zap.Error(err),
			)
			malformed = append(malformed, id)
			continue
		}
		if score > bestScore {
			best, bestScore = row, score
		}
	}

	for _, id := range malformed {
		c.entries.Remove(id)
	}

	if best == nil || bestScore < c.threshold {
		return nil, false
	}

	// Bump recency and the hit counter on the served entry only.
	c.entries.Get(best.ID)
	best.HitCount++
	if c.db != nil {
		if err := c.db.UpdateCacheHitCount(best.ID, best.HitCount); err != nil {
			logger.Warn("Failed to persist cache hit count", zap.Error(err))
		}
	}

	return &Hit{
		Answer:   best.Answer,
		Query:    best.Query,
		Question: best.Question,
		Score:    bestScore,
	}, true
}

// Insert appends a new entry after a successful pipeline completion.
func (c *Cache) Insert(ctx context.Context, question string, questionEmbedding []float32, answer, query string) error {
	row := &store.CacheRow{
		Question:  question,
		Embedding: questionEmbedding,
		Answer:    answer,
		Query:     query,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		id, err := c.db.InsertCacheRow(row)
		if err != nil {
			return err
		}
		row.ID = id
	} else {
		row.ID = c.nextID
		c.nextID++
	}

	c.entries.Add(row.ID, row)
	logger.Debug("Cache entry inserted", zap.Int64("id", row.ID))
	return nil
}

// MarkBypass records that this session corrected this question: subsequent
// lookups from the same session must miss until the corrected answer is
// re-cached.
func (c *Cache) MarkBypass(sessionID, question string) {
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bypass[sessionID] == nil {
		c.bypass[sessionID] = make(map[string]struct{})
	}
	c.bypass[sessionID][utils.HashString(question)] = struct{}{}
}

// ClearBypass drops bypass markers for a session, typically at session end.
func (c *Cache) ClearBypass(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bypass, sessionID)
}

type Stats struct {
	Entries     int            `json:"entries"`
	TotalHits   int64          `json:"total_hits"`
	AvgHits     float64        `json:"avg_hits"`
	TopAccessed []AccessedItem `json:"top_accessed"`
}

type AccessedItem struct {
	Question string `json:"question"`
	Hits     int64  `json:"hits"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var items []AccessedItem
	var total int64
	for _, id := range c.entries.Keys() {
		if row, ok := c.entries.Peek(id); ok {
			total += row.HitCount
			items = append(items, AccessedItem{Question: row.Question, Hits: row.HitCount})
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Hits > items[j].Hits })
	if len(items) > 5 {
		items = items[:5]
	}

	stats := Stats{
		Entries:     c.entries.Len(),
		TotalHits:   total,
		TopAccessed: items,
	}
	if stats.Entries > 0 {
		stats.AvgHits = float64(total) / float64(stats.Entries)
	}
	return stats
}

// Clear empties the cache in memory and on disk.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Detach persistence while purging so eviction callbacks do not issue a
	// delete per row.
	db := c.db
	c.db = nil
	c.entries.Purge()
	c.db = db

	if c.db != nil {
		return c.db.ClearCacheRows()
	}
	return nil
}
