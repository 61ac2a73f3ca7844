package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedProvider struct {
	vector []float32
}

func (p *fixedProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return p.vector, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())
	return NewStore(db, &fixedProvider{vector: []float32{1, 0, 0}}, nil)
}

func TestSaveFeedbackPromotionGate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	promoted, err := s.SaveFeedback(ctx, &Feedback{
		Question:       "how many servers",
		GeneratedQuery: "MATCH (s:Server) RETURN s",
		CorrectQuery:   "MATCH (s:Server) RETURN count(s)",
		Rating:         3,
	})
	require.NoError(t, err)
	assert.False(t, promoted, "rating below the threshold stays out of the pool")
	assert.Empty(t, s.Examples())

	promoted, err = s.SaveFeedback(ctx, &Feedback{
		Question:     "how many servers",
		CorrectQuery: "MATCH (s:Server) RETURN count(s)",
		Rating:       4,
	})
	require.NoError(t, err)
	assert.True(t, promoted)

	pool := s.FeedbackExamples()
	require.Len(t, pool, 1)
	assert.Equal(t, "MATCH (s:Server) RETURN count(s)", pool[0].Query)
	assert.Equal(t, SourceFeedback, pool[0].Source)
}

func TestSaveFeedbackHighRatingEndorsesGeneratedQuery(t *testing.T) {
	s := newTestStore(t)

	promoted, err := s.SaveFeedback(context.Background(), &Feedback{
		Question:       "list gateways",
		GeneratedQuery: "MATCH (g:ApiGateway) RETURN g.name",
		Rating:         5,
	})
	require.NoError(t, err)
	assert.True(t, promoted)

	pool := s.FeedbackExamples()
	require.Len(t, pool, 1)
	assert.Equal(t, "MATCH (g:ApiGateway) RETURN g.name", pool[0].Query)
}

func TestSaveFeedbackRepromotionReplacesPublishedEntry(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())
	s := NewStore(db, &fixedProvider{vector: []float32{1, 0, 0}}, nil)
	ctx := context.Background()

	promoted, err := s.SaveFeedback(ctx, &Feedback{Question: "how many servers", CorrectQuery: "MATCH (s:Server) RETURN count(s)", Rating: 5})
	require.NoError(t, err)
	require.True(t, promoted)

	promoted, err = s.SaveFeedback(ctx, &Feedback{Question: "how many servers", CorrectQuery: "MATCH (s:Server) RETURN count(DISTINCT s)", Rating: 5})
	require.NoError(t, err)
	require.True(t, promoted)

	pool := s.FeedbackExamples()
	require.Len(t, pool, 1, "re-promoting the same question must not leave the old query selectable")
	assert.Equal(t, "MATCH (s:Server) RETURN count(DISTINCT s)", pool[0].Query)

	persisted, err := db.ListPoolEntries()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, persisted[0].ID, pool[0].ID, "published entry carries the persisted pool id")
	assert.Equal(t, "MATCH (s:Server) RETURN count(DISTINCT s)", persisted[0].Query)
}

func TestExamplesSnapshotUnaffectedByLaterPublish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveFeedback(ctx, &Feedback{Question: "q1", CorrectQuery: "C1", Rating: 5})
	require.NoError(t, err)

	snapshot := s.Examples()
	require.Len(t, snapshot, 1)

	_, err = s.SaveFeedback(ctx, &Feedback{Question: "q2", CorrectQuery: "C2", Rating: 5})
	require.NoError(t, err)

	assert.Len(t, snapshot, 1, "published snapshots are immutable")
	assert.Len(t, s.Examples(), 2)
}

func TestPersistedPoolSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.db")

	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())

	s := NewStore(db, &fixedProvider{vector: []float32{0.5, 0.5}}, nil)
	_, err = s.SaveFeedback(context.Background(), &Feedback{Question: "q", CorrectQuery: "C", Rating: 5})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := NewDB(path)
	require.NoError(t, err)
	defer db2.Close()

	s2 := NewStore(db2, &fixedProvider{vector: []float32{0.5, 0.5}}, nil)
	require.NoError(t, s2.LoadPersisted(context.Background()))

	pool := s2.Examples()
	require.Len(t, pool, 1)
	assert.Equal(t, "C", pool[0].Query)
	assert.Equal(t, []float32{0.5, 0.5}, pool[0].Embedding)
}

type batchProvider struct {
	fixedProvider
	batchCalls int
}

func (p *batchProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.batchCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.vector
	}
	return out, nil
}

func TestLoadStaticExamplesBatchEmbeds(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	provider := &batchProvider{fixedProvider: fixedProvider{vector: []float32{1, 0}}}
	s := NewStore(db, provider, nil)

	path := filepath.Join(t.TempDir(), "examples.json")
	content := `[
		{"natural_language": "q1", "cypher": "C1"},
		{"natural_language": "q2", "cypher": "C2"},
		{"natural_language": "q3", "cypher": "C3"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, s.LoadStaticExamples(context.Background(), path))
	assert.Equal(t, 1, provider.batchCalls, "all pending examples go upstream in one batch")
	assert.Len(t, s.Examples(), 3)
}

func TestLoadStaticExamplesMissingFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.LoadStaticExamples(context.Background(), filepath.Join(t.TempDir(), "missing.json")))
	assert.Empty(t, s.Examples())
}

func TestLoadStaticExamplesDeduplicates(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "examples.json")
	content := `[
		{"natural_language": "q1", "cypher": "C1"},
		{"natural_language": "q2", "cypher": "C2"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, s.LoadStaticExamples(context.Background(), path))
	require.NoError(t, s.LoadStaticExamples(context.Background(), path), "reload must not duplicate entries")

	static, feedback := s.Counts()
	assert.Equal(t, 2, static)
	assert.Equal(t, 0, feedback)
}
