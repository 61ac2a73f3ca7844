package milvus

import (
	"context"
	"fmt"
	"math"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/similarity"
	"github.com/topoquery/backend/pkg/logger"
)

// Index is an approximate-search accelerator over the example pool. It mirrors
// the vectors the in-memory store publishes, keyed by the store's entry IDs,
// and serves cosine/euclidean top-K faster than pairwise comparison once the
// pool is large. Results are converted to the same normalized similarity scale
// the brute-force path uses.
type Index struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewIndex(endpoint, collectionName string, vectorDim int) (*Index, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus index initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Index{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (x *Index) Close() error {
	return x.client.Close()
}

func (x *Index) EnsureCollection(ctx context.Context) error {
	has, err := x.client.HasCollection(ctx, x.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: x.collectionName,
		Description:    "Example pool embeddings",
		Fields: []*entity.Field{
			{
				Name:       "entry_id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", x.vectorDim),
				},
			},
		},
	}

	if err := x.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := x.client.CreateIndex(ctx, x.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := x.client.LoadCollection(ctx, x.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", x.collectionName))
	return nil
}

// Upsert mirrors one pool entry into the collection.
func (x *Index) Upsert(ctx context.Context, id int64, vector []float32) error {
	_, err := x.client.Upsert(
		ctx,
		x.collectionName,
		"",
		entity.NewColumnInt64("entry_id", []int64{id}),
		entity.NewColumnFloatVector("embedding", x.vectorDim, [][]float32{vector}),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

// Search implements similarity.Backend for cosine and euclidean. The index may
// contain entries no longer in the caller's pool, so results are filtered
// against the pool before truncation.
func (x *Index) Search(ctx context.Context, query []float32, pool []similarity.Candidate, topK int, metric similarity.Metric) ([]similarity.Match, error) {
	var metricType entity.MetricType
	switch metric {
	case similarity.MetricCosine:
		metricType = entity.COSINE
	case similarity.MetricEuclidean:
		metricType = entity.L2
	default:
		return nil, fmt.Errorf("metric %s is not indexable", metric)
	}

	inPool := make(map[int64]struct{}, len(pool))
	for _, c := range pool {
		inPool[c.ID] = struct{}{}
	}

	// Over-fetch to survive filtering out stale entries.
	limit := topK * 4
	if limit < 16 {
		limit = 16
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)
	searchResult, err := x.client.Search(
		ctx,
		x.collectionName,
		[]string{},
		"",
		[]string{"entry_id"},
		[]entity.Vector{entity.FloatVector(query)},
		"embedding",
		metricType,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	matches := make([]similarity.Match, 0, topK)
	for _, sr := range searchResult {
		idCol, ok := sr.Fields.GetColumn("entry_id").(*entity.ColumnInt64)
		if !ok {
			return nil, fmt.Errorf("unexpected entry_id column type")
		}
		for i := 0; i < sr.ResultCount; i++ {
			id, err := idCol.ValueByIdx(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read entry id: %w", err)
			}
			if _, ok := inPool[id]; !ok {
				continue
			}
			matches = append(matches, similarity.Match{
				ID:    id,
				Score: convertScore(metricType, sr.Scores[i]),
			})
			if topK > 0 && len(matches) == topK {
				break
			}
		}
	}

	logger.Debug("Index search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
	)
	return matches, nil
}

// convertScore maps milvus scores onto the normalized scale used by the
// brute-force path: cosine rescaled from [-1,1], L2 inverted with 1/(1+d).
func convertScore(metricType entity.MetricType, score float32) float64 {
	switch metricType {
	case entity.COSINE:
		return (float64(score) + 1) / 2
	default:
		return 1 / (1 + math.Sqrt(math.Max(0, float64(score))))
	}
}
