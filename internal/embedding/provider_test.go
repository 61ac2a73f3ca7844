package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type singleEmbedder struct {
	calls int
}

func (e *singleEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{float32(len(text)), 0}, nil
}

type batchEmbedder struct {
	singleEmbedder
	batchCalls int
	err        error
}

func (e *batchEmbedder) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.batchCalls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func TestEmbedBatchUsesOneUpstreamCall(t *testing.T) {
	upstream := &batchEmbedder{}
	p := NewCachedProvider(upstream, nil, 0)

	texts := []string{"a", "bb", "ccc"}
	vectors, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	assert.Equal(t, 1, upstream.batchCalls)
	assert.Equal(t, 0, upstream.calls, "batch-capable embedder is never called per text")
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "result order matches input order")
	}
}

func TestEmbedBatchFallsBackWithoutBatchSupport(t *testing.T) {
	upstream := &singleEmbedder{}
	p := NewCachedProvider(upstream, nil, 0)

	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, 2, upstream.calls)
	assert.Equal(t, float32(2), vectors[1][0])
}

func TestEmbedBatchWrapsUpstreamFailure(t *testing.T) {
	upstream := &batchEmbedder{err: errors.New("rate limited")}
	p := NewCachedProvider(upstream, nil, 0)

	_, err := p.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding provider unavailable")
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	upstream := &batchEmbedder{}
	p := NewCachedProvider(upstream, nil, 0)

	vectors, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, 0, upstream.batchCalls)
}
