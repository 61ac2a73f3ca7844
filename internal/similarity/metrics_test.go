package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	for _, name := range []string{"cosine", "euclidean", "manhattan", "dot", "pearson", "spearman", "jaccard", "hamming"} {
		m, err := ParseMetric(name)
		require.NoError(t, err)
		assert.Equal(t, name, string(m))
	}

	_, err := ParseMetric("chebyshev")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestCosineIdenticalVectors(t *testing.T) {
	v := []float32{0.5, -0.2, 0.8, 0.1}
	score, err := Score(MetricCosine, v, v)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestCosineOppositeVectors(t *testing.T) {
	a := []float32{1, 0, 1}
	b := []float32{-1, 0, -1}
	score, err := Score(MetricCosine, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-9)
}

func TestDistanceMetricsBounded(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}

	for _, m := range []Metric{MetricEuclidean, MetricManhattan} {
		score, err := Score(m, a, b)
		require.NoError(t, err)
		assert.Greater(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)

		same, err := Score(m, a, a)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, same, 1e-9)
	}
}

func TestPearsonPerfectCorrelation(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{2, 4, 6, 8}
	score, err := Score(MetricPearson, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestSpearmanMonotonicNonlinear(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{1, 10, 100, 1000}
	score, err := Score(MetricSpearman, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestSpearmanHandlesTies(t *testing.T) {
	a := []float32{1, 2, 2, 3}
	b := []float32{1, 2, 2, 3}
	score, err := Score(MetricSpearman, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestJaccard(t *testing.T) {
	a := []float32{1, 1, 0, 0}
	b := []float32{1, 0, 1, 0}
	score, err := Score(MetricJaccard, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, score, 1e-9)

	empty := []float32{0, 0, 0, 0}
	score, err = Score(MetricJaccard, empty, empty)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestHamming(t *testing.T) {
	a := []float32{1, 1, 0, 0}
	b := []float32{1, 0, 0, 1}
	score, err := Score(MetricHamming, a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestScoreLengthMismatch(t *testing.T) {
	_, err := Score(MetricCosine, []float32{1, 2}, []float32{1, 2, 3})
	assert.Error(t, err)

	_, err = Score(MetricCosine, nil, nil)
	assert.Error(t, err)
}
