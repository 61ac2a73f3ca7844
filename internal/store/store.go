package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/embedding"
	"github.com/topoquery/backend/pkg/logger"
)

type Source string

const (
	SourceStatic   Source = "static"
	SourceFeedback Source = "feedback"
)

// Example is one selectable (question, query) pair with its cached embedding.
// Static examples are immutable after load; feedback-sourced entries are
// appended by promotion and never mutated.
type Example struct {
	ID              int64
	NaturalLanguage string
	Query           string
	Embedding       []float32
	Source          Source
}

// Feedback is a raw user correction. Only rating >= PromotionThreshold enters
// the selectable pool; everything is retained for audit.
type Feedback struct {
	ID             int64
	Question       string
	GeneratedQuery string
	CorrectQuery   string
	Rating         int
	CreatedAt      time.Time
}

// CacheRow is the persisted form of a semantic cache entry.
type CacheRow struct {
	ID        int64
	Question  string
	Embedding []float32
	Answer    string
	Query     string
	HitCount  int64
	CreatedAt time.Time
}

// PromotionThreshold is the minimum rating at which feedback becomes a
// selectable example.
const PromotionThreshold = 4

// VectorIndex mirrors published pool entries into an external ANN index.
type VectorIndex interface {
	Upsert(ctx context.Context, id int64, vector []float32) error
}

// Store is the process-wide example/feedback pool. The published slice is
// copy-on-write: readers grab the current slice under RLock and keep using it
// lock-free, writers replace it wholesale, so a reader sees either the pre- or
// post-write pool, never a partial one. No lock is held across embedding
// calls.
type Store struct {
	mu   sync.RWMutex
	pool []Example

	db       *DB
	provider embedding.Provider
	index    VectorIndex
}

func NewStore(db *DB, provider embedding.Provider, index VectorIndex) *Store {
	return &Store{
		db:       db,
		provider: provider,
		index:    index,
	}
}

// LoadPersisted publishes every pool entry persisted from earlier runs.
func (s *Store) LoadPersisted(ctx context.Context) error {
	entries, err := s.db.ListPoolEntries()
	if err != nil {
		return fmt.Errorf("failed to load persisted pool: %w", err)
	}

	s.mu.Lock()
	s.pool = entries
	s.mu.Unlock()

	for _, ex := range entries {
		s.mirror(ctx, ex)
	}

	logger.Info("Example pool loaded", zap.Int("entries", len(entries)))
	return nil
}

type staticExample struct {
	NaturalLanguage string `json:"natural_language"`
	Cypher          string `json:"cypher"`
}

// LoadStaticExamples reads the examples file, embeds any entry not already in
// the pool and publishes it. Missing file is not an error; the pool can run
// on feedback alone.
func (s *Store) LoadStaticExamples(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("Examples file not found", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("failed to read examples file: %w", err)
	}

	var statics []staticExample
	if err := json.Unmarshal(data, &statics); err != nil {
		return fmt.Errorf("failed to parse examples file: %w", err)
	}

	known := make(map[string]struct{})
	for _, ex := range s.Examples() {
		if ex.Source == SourceStatic {
			known[ex.NaturalLanguage] = struct{}{}
		}
	}

	var fresh []staticExample
	for _, se := range statics {
		if se.NaturalLanguage == "" || se.Cypher == "" {
			continue
		}
		if _, ok := known[se.NaturalLanguage]; ok {
			continue
		}
		fresh = append(fresh, se)
	}

	vectors, err := s.embedAll(ctx, fresh)
	if err != nil {
		return fmt.Errorf("failed to embed static examples: %w", err)
	}

	added := 0
	for i, se := range fresh {
		if err := s.publish(ctx, Example{
			NaturalLanguage: se.NaturalLanguage,
			Query:           se.Cypher,
			Embedding:       vectors[i],
			Source:          SourceStatic,
		}); err != nil {
			return err
		}
		added++
	}

	logger.Info("Static examples loaded", zap.Int("added", added), zap.Int("total", len(statics)))
	return nil
}

// embedAll embeds the given examples, as a single batch call when the
// provider supports it.
func (s *Store) embedAll(ctx context.Context, examples []staticExample) ([][]float32, error) {
	if len(examples) == 0 {
		return nil, nil
	}

	if batch, ok := s.provider.(embedding.BatchProvider); ok {
		texts := make([]string, len(examples))
		for i, se := range examples {
			texts[i] = se.NaturalLanguage
		}
		return batch.EmbedBatch(ctx, texts)
	}

	vectors := make([][]float32, len(examples))
	for i, se := range examples {
		vector, err := s.provider.Embed(ctx, se.NaturalLanguage)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// SaveFeedback persists the correction and, when the rating clears the
// promotion gate, re-embeds the question and atomically publishes it into the
// selectable pool. Promotion is visible to requests that start after this
// returns.
func (s *Store) SaveFeedback(ctx context.Context, fb *Feedback) (promoted bool, err error) {
	id, err := s.db.InsertFeedback(fb)
	if err != nil {
		return false, err
	}
	fb.ID = id

	if fb.Rating < PromotionThreshold {
		logger.Info("Feedback retained for audit only",
			zap.Int64("feedback_id", id),
			zap.Int("rating", fb.Rating),
		)
		return false, nil
	}

	// A high rating endorses the correction when one was given, otherwise
	// the generated query itself.
	query := fb.CorrectQuery
	if query == "" {
		query = fb.GeneratedQuery
	}
	if query == "" {
		return false, nil
	}

	vector, err := s.provider.Embed(ctx, fb.Question)
	if err != nil {
		return false, fmt.Errorf("failed to embed promoted feedback: %w", err)
	}

	if err := s.publish(ctx, Example{
		NaturalLanguage: fb.Question,
		Query:           query,
		Embedding:       vector,
		Source:          SourceFeedback,
	}); err != nil {
		return false, err
	}

	logger.Info("Feedback promoted into example pool",
		zap.Int64("feedback_id", id),
		zap.Int("rating", fb.Rating),
	)
	return true, nil
}

func (s *Store) publish(ctx context.Context, ex Example) error {
	id, err := s.db.InsertPoolEntry(&ex)
	if err != nil {
		return err
	}
	ex.ID = id

	s.mu.Lock()
	next := make([]Example, len(s.pool), len(s.pool)+1)
	copy(next, s.pool)
	// An upsert on an already-published question lands on the same entry id;
	// replace that entry in place so the superseded query stops being
	// selectable.
	replaced := false
	for i := range next {
		if next[i].ID == ex.ID {
			next[i] = ex
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, ex)
	}
	s.pool = next
	s.mu.Unlock()

	s.mirror(ctx, ex)
	return nil
}

func (s *Store) mirror(ctx context.Context, ex Example) {
	if s.index == nil {
		return
	}
	if err := s.index.Upsert(ctx, ex.ID, ex.Embedding); err != nil {
		// The index is an accelerator; the brute-force path still covers
		// this entry.
		logger.Warn("Failed to mirror pool entry into index",
			zap.Int64("id", ex.ID),
			zap.Error(err),
		)
	}
}

// Examples returns the full selectable pool (static + promoted feedback).
// The returned slice is a published snapshot and must not be mutated.
func (s *Store) Examples() []Example {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// FeedbackExamples returns only the promoted-feedback portion of the pool.
func (s *Store) FeedbackExamples() []Example {
	pool := s.Examples()
	out := make([]Example, 0, len(pool))
	for _, ex := range pool {
		if ex.Source == SourceFeedback {
			out = append(out, ex)
		}
	}
	return out
}

// Reset is the administrative re-initialization: the in-memory pool is
// rebuilt from persistent storage.
func (s *Store) Reset(ctx context.Context) error {
	return s.LoadPersisted(ctx)
}

func (s *Store) Counts() (static, feedback int) {
	for _, ex := range s.Examples() {
		if ex.Source == SourceStatic {
			static++
		} else {
			feedback++
		}
	}
	return static, feedback
}
