package agent

import (
	"context"

	"github.com/topoquery/backend/internal/prompt"
	"github.com/topoquery/backend/internal/similarity"
	"github.com/topoquery/backend/internal/store"
)

type examplePool interface {
	Examples() []store.Example
	FeedbackExamples() []store.Example
}

// SelectorConfig bounds retrieval for each pool independently.
type SelectorConfig struct {
	ExampleTopK           int
	ExampleMinSimilarity  float64
	FeedbackTopK          int
	FeedbackMinSimilarity float64
}

// Selector retrieves prompt material by embedding similarity. The example
// pool and the feedback pool are queried separately and never merged.
type Selector struct {
	pool   examplePool
	engine *similarity.Engine
	metric similarity.Metric
	cfg    SelectorConfig
}

func NewSelector(pool examplePool, engine *similarity.Engine, metric similarity.Metric, cfg SelectorConfig) *Selector {
	if cfg.ExampleTopK <= 0 {
		cfg.ExampleTopK = 5
	}
	if cfg.FeedbackTopK <= 0 {
		cfg.FeedbackTopK = 3
	}
	return &Selector{pool: pool, engine: engine, metric: metric, cfg: cfg}
}

// SelectExamples ranks the full pool. An empty metric uses the configured
// default; embeddings are dense, so binary-only metrics fail in the engine.
func (s *Selector) SelectExamples(ctx context.Context, questionEmbedding []float32, metric similarity.Metric) ([]prompt.ExampleItem, error) {
	return s.selectFrom(ctx, s.pool.Examples(), questionEmbedding, s.cfg.ExampleTopK, s.cfg.ExampleMinSimilarity, metric)
}

func (s *Selector) SelectFeedback(ctx context.Context, questionEmbedding []float32, metric similarity.Metric) ([]prompt.ExampleItem, error) {
	return s.selectFrom(ctx, s.pool.FeedbackExamples(), questionEmbedding, s.cfg.FeedbackTopK, s.cfg.FeedbackMinSimilarity, metric)
}

func (s *Selector) selectFrom(ctx context.Context, examples []store.Example, questionEmbedding []float32, topK int, minSim float64, metric similarity.Metric) ([]prompt.ExampleItem, error) {
	if metric == "" {
		metric = s.metric
	}
	if len(examples) == 0 {
		return nil, nil
	}

	// Candidates carry the store entry IDs the accelerated index is keyed
	// by, so both backends name the same entry the same way. Ties still
	// resolve in pool order because the engine sorts stably.
	byID := make(map[int64]store.Example, len(examples))
	candidates := make([]similarity.Candidate, len(examples))
	for i, ex := range examples {
		candidates[i] = similarity.Candidate{ID: ex.ID, Vector: ex.Embedding}
		byID[ex.ID] = ex
	}

	matches, err := s.engine.Select(ctx, questionEmbedding, candidates, topK, metric, false)
	if err != nil {
		return nil, err
	}

	var items []prompt.ExampleItem
	for _, m := range matches {
		if m.Score < minSim {
			continue
		}
		ex, ok := byID[m.ID]
		if !ok {
			continue
		}
		items = append(items, prompt.ExampleItem{
			NaturalLanguage: ex.NaturalLanguage,
			Query:           ex.Query,
			Similarity:      m.Score,
		})
	}
	return items, nil
}
