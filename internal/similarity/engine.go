package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/topoquery/backend/pkg/logger"
)

// ErrMetricRequiresBinary is returned when a set metric is selected for a pool
// of dense float vectors.
var ErrMetricRequiresBinary = errors.New("metric requires a binary-compatible pool")

// Candidate is one searchable vector. IDs identify the same entry across
// backends and must be unique within a pool; ties between equal scores
// resolve in pool order.
type Candidate struct {
	ID     int64
	Vector []float32
}

type Match struct {
	ID    int64
	Score float64
}

// Backend ranks a candidate pool against a query vector. Implementations must
// return matches ordered best-first and consistent with brute force.
type Backend interface {
	Search(ctx context.Context, query []float32, pool []Candidate, topK int, metric Metric) ([]Match, error)
}

// BruteForce compares the query against every candidate. Ties keep insertion
// order.
type BruteForce struct{}

func (BruteForce) Search(_ context.Context, query []float32, pool []Candidate, topK int, metric Metric) ([]Match, error) {
	matches := make([]Match, 0, len(pool))
	for _, c := range pool {
		score, err := Score(metric, query, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("scoring candidate %d: %w", c.ID, err)
		}
		matches = append(matches, Match{ID: c.ID, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Engine selects a search backend per call: the accelerated index is used for
// cosine and euclidean once the pool passes the size threshold, brute force
// for everything else. The accelerated path is an optimization only; its
// ranking must agree with brute force.
type Engine struct {
	brute         BruteForce
	accel         Backend
	poolThreshold int
}

func NewEngine(accel Backend, poolThreshold int) *Engine {
	if poolThreshold <= 0 {
		poolThreshold = 100
	}
	return &Engine{accel: accel, poolThreshold: poolThreshold}
}

// Select ranks the pool and returns the top-K matches, highest similarity
// first. binaryPool flags pools of binarized vectors; selecting jaccard or
// hamming on a dense pool is a caller error.
func (e *Engine) Select(ctx context.Context, query []float32, pool []Candidate, topK int, metric Metric, binaryPool bool) ([]Match, error) {
	if metric.Binary() && !binaryPool {
		return nil, fmt.Errorf("%w: %s", ErrMetricRequiresBinary, metric)
	}

	backend := e.pick(pool, metric)
	matches, err := backend.Search(ctx, query, pool, topK, metric)
	if err == nil {
		return matches, nil
	}
	if backend == e.accel {
		// The index is a performance optimization, not an availability
		// dependency.
		logger.Warn("accelerated search failed, falling back to brute force", zap.Error(err))
		return e.brute.Search(ctx, query, pool, topK, metric)
	}
	return nil, err
}

func (e *Engine) pick(pool []Candidate, metric Metric) Backend {
	if e.accel == nil || len(pool) < e.poolThreshold {
		return e.brute
	}
	if metric != MetricCosine && metric != MetricEuclidean {
		return e.brute
	}
	return e.accel
}
