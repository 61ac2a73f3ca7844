package similarity

import (
	"fmt"
	"math"
	"sort"
)

// Metric identifies a similarity method. Every metric maps a vector pair to a
// similarity score where higher means closer: the correlation family is
// rescaled from [-1,1] to [0,1], distances are inverted with 1/(1+d), and the
// set metrics operate on binarized vectors. Dot product is returned raw; it is
// unbounded and only its ordering is meaningful.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricManhattan Metric = "manhattan"
	MetricDot       Metric = "dot"
	MetricPearson   Metric = "pearson"
	MetricSpearman  Metric = "spearman"
	MetricJaccard   Metric = "jaccard"
	MetricHamming   Metric = "hamming"
)

var ErrUnknownMetric = fmt.Errorf("unknown similarity metric")

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricEuclidean, MetricManhattan, MetricDot,
		MetricPearson, MetricSpearman, MetricJaccard, MetricHamming:
		return Metric(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// Binary reports whether the metric is only meaningful on pools flagged as
// binary-compatible.
func (m Metric) Binary() bool {
	return m == MetricJaccard || m == MetricHamming
}

// Score computes the normalized similarity between two vectors of equal length.
func Score(m Metric, a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}

	switch m {
	case MetricCosine:
		return rescaleUnit(cosine(a, b)), nil
	case MetricEuclidean:
		return invertDistance(euclidean(a, b)), nil
	case MetricManhattan:
		return invertDistance(manhattan(a, b)), nil
	case MetricDot:
		return dot(a, b), nil
	case MetricPearson:
		return rescaleUnit(pearson(a, b)), nil
	case MetricSpearman:
		return rescaleUnit(spearman(a, b)), nil
	case MetricJaccard:
		return jaccard(a, b), nil
	case MetricHamming:
		return hamming(a, b), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, string(m))
}

// rescaleUnit maps [-1,1] to [0,1].
func rescaleUnit(x float64) float64 {
	return (x + 1) / 2
}

// invertDistance maps a distance in [0,inf) to a similarity in (0,1].
func invertDistance(d float64) float64 {
	return 1 / (1 + d)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float64 {
	var dp, na, nb float64
	for i := range a {
		dp += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dp / (math.Sqrt(na) * math.Sqrt(nb))
	// Float rounding can push identical vectors a hair past 1.
	return math.Max(-1, math.Min(1, c))
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func manhattan(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum
}

func pearson(a, b []float32) float64 {
	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += float64(a[i])
		sumB += float64(b[i])
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da := float64(a[i]) - meanA
		db := float64(b[i]) - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	r := cov / (math.Sqrt(varA) * math.Sqrt(varB))
	return math.Max(-1, math.Min(1, r))
}

func spearman(a, b []float32) float64 {
	return pearson(ranks(a), ranks(b))
}

// ranks assigns fractional ranks, averaging over ties.
func ranks(v []float32) []float32 {
	n := len(v)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return v[idx[i]] < v[idx[j]] })

	ranked := make([]float32, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && v[idx[j+1]] == v[idx[i]] {
			j++
		}
		// Average rank for the tie group [i, j].
		avg := float32(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranked[idx[k]] = avg
		}
		i = j + 1
	}
	return ranked
}

func jaccard(a, b []float32) float64 {
	var inter, union float64
	for i := range a {
		x, y := a[i] != 0, b[i] != 0
		if x && y {
			inter++
		}
		if x || y {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return inter / union
}

func hamming(a, b []float32) float64 {
	var same float64
	for i := range a {
		if (a[i] != 0) == (b[i] != 0) {
			same++
		}
	}
	return same / float64(len(a))
}
