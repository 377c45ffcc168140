package index

import (
	"fmt"
	"math"

	"github.com/agenthands/consolidator/internal/core/model"
)

// SelfSimilarity is what a stored vector scores against itself.
const SelfSimilarity = 1.0

// normalize returns a unit-length copy of v.
func normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", model.ErrInvalidVector)
	}
	var norm float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite component", model.ErrInvalidVector)
		}
		norm += f * f
	}
	if norm == 0 {
		return nil, fmt.Errorf("%w: zero norm", model.ErrInvalidVector)
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// dot is the cosine of two unit vectors.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// toSimilarity maps cosine from [-1,1] onto [0,1]. Values within float32
// rounding of the ends are snapped so a vector scores exactly 1 against itself.
func toSimilarity(cos float64) float64 {
	s := (1 + cos) / 2
	switch {
	case s >= 1-1e-6:
		return SelfSimilarity
	case s <= 1e-6:
		return 0
	default:
		return s
	}
}
