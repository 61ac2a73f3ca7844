package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topoquery/backend/internal/similarity"
	"github.com/topoquery/backend/internal/store"
)

type stubPool struct {
	examples []store.Example
	feedback []store.Example
}

func (p *stubPool) Examples() []store.Example         { return p.examples }
func (p *stubPool) FeedbackExamples() []store.Example { return p.feedback }

func TestSelectExamplesRanksByCosine(t *testing.T) {
	pool := &stubPool{examples: []store.Example{
		{ID: 1, NaturalLanguage: "list all api gateways", Query: "MATCH (g:ApiGateway) RETURN g", Embedding: []float32{0.99, 0.1, 0}},
		{ID: 2, NaturalLanguage: "count databases", Query: "MATCH (d:Database) RETURN count(d)", Embedding: []float32{0, 1, 0}},
		{ID: 3, NaturalLanguage: "show api gateway routes", Query: "MATCH (g:ApiGateway)-[:ROUTES_TO]->(s) RETURN g, s", Embedding: []float32{0.95, 0.2, 0}},
	}}

	sel := NewSelector(pool, similarity.NewEngine(nil, 0), similarity.MetricCosine, SelectorConfig{
		ExampleTopK: 2, ExampleMinSimilarity: 0.7,
	})

	items, err := sel.SelectExamples(context.Background(), []float32{1, 0.1, 0}, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "list all api gateways", items[0].NaturalLanguage)
	assert.GreaterOrEqual(t, items[0].Similarity, 0.99)
	assert.Equal(t, "show api gateway routes", items[1].NaturalLanguage)
}

func TestSelectExamplesFiltersBelowMinimum(t *testing.T) {
	pool := &stubPool{examples: []store.Example{
		{ID: 1, NaturalLanguage: "unrelated", Query: "Q", Embedding: []float32{0, 1, 0}},
	}}

	sel := NewSelector(pool, similarity.NewEngine(nil, 0), similarity.MetricCosine, SelectorConfig{
		ExampleTopK: 5, ExampleMinSimilarity: 0.7,
	})

	items, err := sel.SelectExamples(context.Background(), []float32{1, 0, 0}, "")
	require.NoError(t, err)
	assert.Empty(t, items, "orthogonal examples score 0.5 and fall below the floor")
}

func TestSelectFeedbackUsesFeedbackPoolOnly(t *testing.T) {
	pool := &stubPool{
		examples: []store.Example{
			{ID: 1, NaturalLanguage: "static", Query: "Q1", Source: store.SourceStatic, Embedding: []float32{1, 0, 0}},
		},
		feedback: []store.Example{
			{ID: 2, NaturalLanguage: "corrected", Query: "Q2", Source: store.SourceFeedback, Embedding: []float32{1, 0, 0}},
		},
	}

	sel := NewSelector(pool, similarity.NewEngine(nil, 0), similarity.MetricCosine, SelectorConfig{
		FeedbackTopK: 3, FeedbackMinSimilarity: 0.8,
	})

	items, err := sel.SelectFeedback(context.Background(), []float32{1, 0, 0}, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "corrected", items[0].NaturalLanguage)
}

func TestSelectExamplesMetricOverride(t *testing.T) {
	// Nearest by cosine and nearest by euclidean distance differ here.
	pool := &stubPool{examples: []store.Example{
		{ID: 1, NaturalLanguage: "same direction, short", Query: "Q1", Embedding: []float32{0.6, 0}},
		{ID: 2, NaturalLanguage: "close in space", Query: "Q2", Embedding: []float32{1, 0.3}},
	}}

	sel := NewSelector(pool, similarity.NewEngine(nil, 0), similarity.MetricCosine, SelectorConfig{
		ExampleTopK: 1, ExampleMinSimilarity: 0.7,
	})
	query := []float32{1, 0}

	byDefault, err := sel.SelectExamples(context.Background(), query, "")
	require.NoError(t, err)
	require.Len(t, byDefault, 1)
	assert.Equal(t, "same direction, short", byDefault[0].NaturalLanguage)

	byEuclidean, err := sel.SelectExamples(context.Background(), query, similarity.MetricEuclidean)
	require.NoError(t, err)
	require.Len(t, byEuclidean, 1)
	assert.Equal(t, "close in space", byEuclidean[0].NaturalLanguage)
}

func TestSelectExamplesRejectsBinaryMetricOnDensePool(t *testing.T) {
	pool := &stubPool{examples: []store.Example{
		{ID: 1, NaturalLanguage: "q", Query: "Q", Embedding: []float32{0.5, 0.5}},
	}}

	sel := NewSelector(pool, similarity.NewEngine(nil, 0), similarity.MetricCosine, SelectorConfig{})

	_, err := sel.SelectExamples(context.Background(), []float32{1, 0}, similarity.MetricJaccard)
	assert.ErrorIs(t, err, similarity.ErrMetricRequiresBinary)
}

// recordingBackend stands in for the accelerated index: it answers with
// entry IDs, like the real index does, and keeps the candidates it was given.
type recordingBackend struct {
	candidates []similarity.Candidate
	matches    []similarity.Match
}

func (b *recordingBackend) Search(_ context.Context, _ []float32, pool []similarity.Candidate, _ int, _ similarity.Metric) ([]similarity.Match, error) {
	b.candidates = pool
	return b.matches, nil
}

func TestSelectExamplesMapsAcceleratedMatchesByEntryID(t *testing.T) {
	// Entry IDs come from sqlite and are neither 0-based nor contiguous.
	pool := &stubPool{examples: []store.Example{
		{ID: 11, NaturalLanguage: "first", Query: "Q11", Embedding: []float32{1, 0, 0}},
		{ID: 23, NaturalLanguage: "second", Query: "Q23", Embedding: []float32{0, 1, 0}},
		{ID: 42, NaturalLanguage: "third", Query: "Q42", Embedding: []float32{0, 0, 1}},
	}}

	accel := &recordingBackend{matches: []similarity.Match{
		{ID: 42, Score: 0.97},
		{ID: 11, Score: 0.91},
	}}

	// Threshold of 2 forces the cosine query onto the accelerated backend.
	sel := NewSelector(pool, similarity.NewEngine(accel, 2), similarity.MetricCosine, SelectorConfig{
		ExampleTopK: 2, ExampleMinSimilarity: 0.7,
	})

	items, err := sel.SelectExamples(context.Background(), []float32{0, 0, 1}, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "third", items[0].NaturalLanguage)
	assert.Equal(t, "first", items[1].NaturalLanguage)

	require.Len(t, accel.candidates, 3)
	for i, want := range []int64{11, 23, 42} {
		assert.Equal(t, want, accel.candidates[i].ID, "candidates carry store entry ids, not positions")
	}
}

func TestSelectExamplesStableOnTies(t *testing.T) {
	// Identical vectors tie exactly; insertion order decides.
	pool := &stubPool{examples: []store.Example{
		{ID: 1, NaturalLanguage: "first", Query: "Q1", Embedding: []float32{1, 0}},
		{ID: 2, NaturalLanguage: "second", Query: "Q2", Embedding: []float32{1, 0}},
	}}

	sel := NewSelector(pool, similarity.NewEngine(nil, 0), similarity.MetricCosine, SelectorConfig{
		ExampleTopK: 1, ExampleMinSimilarity: 0.7,
	})

	items, err := sel.SelectExamples(context.Background(), []float32{1, 0}, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "first", items[0].NaturalLanguage)
}
