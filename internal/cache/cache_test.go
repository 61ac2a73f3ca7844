package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topoquery/backend/internal/similarity"
)

func newTestCache(t *testing.T, capacity int, threshold float64) *Cache {
	t.Helper()
	c, err := New(nil, capacity, similarity.MetricCosine, threshold)
	require.NoError(t, err)
	return c
}

func TestLookupMissesBelowThreshold(t *testing.T) {
	c := newTestCache(t, 10, 0.7)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "how many servers", []float32{1, 0, 0}, "42", "MATCH (s:Server) RETURN count(s)"))

	// Orthogonal query embedding scores 0.5 after rescale, below 0.7.
	hit, ok := c.Lookup(ctx, []float32{0, 1, 0}, "", "unrelated question")
	assert.False(t, ok)
	assert.Nil(t, hit)
}

func TestLookupReturnsSingleBestEntry(t *testing.T) {
	c := newTestCache(t, 10, 0.7)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "close", []float32{1, 0.2, 0}, "close answer", "Q1"))
	require.NoError(t, c.Insert(ctx, "exact", []float32{1, 0, 0}, "exact answer", "Q2"))

	hit, ok := c.Lookup(ctx, []float32{1, 0, 0}, "", "same question again")
	require.True(t, ok)
	assert.Equal(t, "exact answer", hit.Answer)
	assert.Equal(t, "Q2", hit.Query)
	assert.InDelta(t, 1.0, hit.Score, 1e-9)
}

func TestInsertThenLookupIsIdempotentHit(t *testing.T) {
	c := newTestCache(t, 10, 0.7)
	ctx := context.Background()
	emb := []float32{0.3, 0.5, 0.8}

	require.NoError(t, c.Insert(ctx, "q", emb, "a", "cypher"))

	hit, ok := c.Lookup(ctx, emb, "", "q")
	require.True(t, ok)
	assert.InDelta(t, 1.0, hit.Score, 1e-9)
}

func TestSessionBypassForcesMiss(t *testing.T) {
	c := newTestCache(t, 10, 0.7)
	ctx := context.Background()
	emb := []float32{1, 0, 0}

	require.NoError(t, c.Insert(ctx, "q", emb, "stale answer", "cypher"))
	c.MarkBypass("session-1", "q")

	_, ok := c.Lookup(ctx, emb, "session-1", "q")
	assert.False(t, ok, "bypassed session must miss")

	// Other sessions and the empty session are unaffected.
	_, ok = c.Lookup(ctx, emb, "session-2", "q")
	assert.True(t, ok)
	_, ok = c.Lookup(ctx, emb, "", "q")
	assert.True(t, ok)

	c.ClearBypass("session-1")
	_, ok = c.Lookup(ctx, emb, "session-1", "q")
	assert.True(t, ok)
}

func TestInconsistentEntrySkipped(t *testing.T) {
	c := newTestCache(t, 10, 0.7)
	ctx := context.Background()

	// Dimension mismatch with the query embedding makes this entry unusable.
	require.NoError(t, c.Insert(ctx, "bad", []float32{1, 0}, "bad answer", "Q1"))
	require.NoError(t, c.Insert(ctx, "good", []float32{1, 0, 0}, "good answer", "Q2"))

	hit, ok := c.Lookup(ctx, []float32{1, 0, 0}, "", "q")
	require.True(t, ok)
	assert.Equal(t, "good answer", hit.Answer)

	// The malformed entry was dropped, not served.
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t, 2, 0.7)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "a", []float32{1, 0, 0}, "A", "Q1"))
	require.NoError(t, c.Insert(ctx, "b", []float32{0, 1, 0}, "B", "Q2"))

	// Touch "a" so "b" is the eviction candidate.
	_, ok := c.Lookup(ctx, []float32{1, 0, 0}, "", "a")
	require.True(t, ok)

	require.NoError(t, c.Insert(ctx, "c", []float32{0, 0, 1}, "C", "Q3"))

	_, ok = c.Lookup(ctx, []float32{0, 1, 0}, "", "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Lookup(ctx, []float32{1, 0, 0}, "", "a")
	assert.True(t, ok)
}

func TestStatsAndClear(t *testing.T) {
	c := newTestCache(t, 10, 0.7)
	ctx := context.Background()
	emb := []float32{1, 0, 0}

	require.NoError(t, c.Insert(ctx, "q", emb, "a", "cypher"))
	c.Lookup(ctx, emb, "", "q")
	c.Lookup(ctx, emb, "", "q")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(2), stats.TotalHits)
	assert.InDelta(t, 2.0, stats.AvgHits, 1e-9)
	require.Len(t, stats.TopAccessed, 1)
	assert.Equal(t, "q", stats.TopAccessed[0].Question)

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Stats().Entries)
	_, ok := c.Lookup(ctx, emb, "", "q")
	assert.False(t, ok)
}
