package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/topoquery/backend/pkg/logger"
	"github.com/topoquery/backend/pkg/utils"
)

// Provider converts text into a fixed-length vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchProvider converts many texts in one upstream round trip.
type BatchProvider interface {
	Provider
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder is the upstream model call.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by upstream clients that support batch calls.
type BatchEmbedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// CachedProvider fronts the embedding model with a redis cache keyed by text
// hash. Redis is optional; with no client every call goes upstream.
type CachedProvider struct {
	embedder Embedder
	redis    *redis.Client
	ttl      time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedProvider(embedder Embedder, redisClient *redis.Client, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedProvider{
		embedder: embedder,
		redis:    redisClient,
		ttl:      ttl,
	}
}

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := fmt.Sprintf("embedding:%s", utils.HashString(text))

	if p.redis != nil {
		data, err := p.redis.Get(ctx, key).Bytes()
		if err == nil {
			var embedding []float32
			if err := json.Unmarshal(data, &embedding); err == nil && len(embedding) > 0 {
				p.hits.Add(1)
				logger.Debug("Embedding cache hit", zap.String("key", key))
				return embedding, nil
			}
			// A corrupt entry is dropped and recomputed, never served.
			logger.Warn("Dropping malformed embedding cache entry", zap.String("key", key))
			p.redis.Del(ctx, key)
		} else if err != redis.Nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
	}

	embedding, err := p.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding provider unavailable: %w", err)
	}
	p.misses.Add(1)

	if p.redis != nil {
		if data, err := json.Marshal(embedding); err == nil {
			if err := p.redis.Set(ctx, key, data, p.ttl).Err(); err != nil {
				logger.Warn("Embedding cache write failed", zap.Error(err))
			}
		}
	}

	return embedding, nil
}

// EmbedBatch resolves each text from the cache first and sends only the
// misses upstream, in a single batch call when the embedder supports it.
// Result order matches the input order.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	var pending []int
	for i, text := range texts {
		if p.redis != nil {
			key := fmt.Sprintf("embedding:%s", utils.HashString(text))
			data, err := p.redis.Get(ctx, key).Bytes()
			if err == nil {
				var embedding []float32
				if err := json.Unmarshal(data, &embedding); err == nil && len(embedding) > 0 {
					p.hits.Add(1)
					results[i] = embedding
					continue
				}
				logger.Warn("Dropping malformed embedding cache entry", zap.String("key", key))
				p.redis.Del(ctx, key)
			} else if err != redis.Nil {
				logger.Warn("Embedding cache read failed", zap.Error(err))
			}
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return results, nil
	}

	batch, ok := p.embedder.(BatchEmbedder)
	if !ok {
		for _, i := range pending {
			embedding, err := p.Embed(ctx, texts[i])
			if err != nil {
				return nil, err
			}
			results[i] = embedding
		}
		return results, nil
	}

	missing := make([]string, len(pending))
	for j, i := range pending {
		missing[j] = texts[i]
	}

	embeddings, err := batch.GenerateBatchEmbeddings(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("embedding provider unavailable: %w", err)
	}
	if len(embeddings) != len(missing) {
		return nil, fmt.Errorf("embedding batch size mismatch: sent %d, got %d", len(missing), len(embeddings))
	}
	p.misses.Add(int64(len(missing)))

	for j, i := range pending {
		results[i] = embeddings[j]
		if p.redis != nil {
			key := fmt.Sprintf("embedding:%s", utils.HashString(texts[i]))
			if data, err := json.Marshal(embeddings[j]); err == nil {
				if err := p.redis.Set(ctx, key, data, p.ttl).Err(); err != nil {
					logger.Warn("Embedding cache write failed", zap.Error(err))
				}
			}
		}
	}

	return results, nil
}

// Stats reports cache effectiveness counters since startup.
func (p *CachedProvider) Stats() map[string]int64 {
	return map[string]int64{
		"hits":   p.hits.Load(),
		"misses": p.misses.Load(),
	}
}

// NewRedisClient connects and pings; a failed ping is an error so callers can
// decide to run without the cache.
func NewRedisClient(host string, port int, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))
	return client, nil
}
