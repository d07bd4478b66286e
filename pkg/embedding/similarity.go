package embedding

import (
	"math"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
)

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. It is 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, goerr.Wrap(&model.DimensionMismatchError{Expected: len(a), Actual: len(b)},
			"cannot compare vectors")
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0, nil
	}
	return max(-1, min(1, sim)), nil
}
