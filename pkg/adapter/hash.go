package adapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/m-mizutani/kioku/pkg/utils/text"
)

const hashBatchLimit = 512

// HashEmbedder is a deterministic local embedder based on feature hashing of
// word tokens and character trigrams. Texts sharing words end up close in
// cosine space, which is enough for offline use and tests.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Name() string {
	return fmt.Sprintf("hash/%d", h.dimension)
}

func (h *HashEmbedder) BatchLimit() int {
	return hashBatchLimit
}

func (h *HashEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, len(texts))
	for i, t := range texts {
		out[i] = Embedding{Index: i, Vector: h.vector(t)}
	}
	return out, nil
}

func (h *HashEmbedder) vector(s string) []float32 {
	vec := make([]float32, h.dimension)

	for _, word := range text.Words(s) {
		w := text.FoldString(word)
		h.add(vec, "w:"+w, 1.0)

		padded := []rune("^" + w + "$")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(vec, "t:"+string(padded[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	idx := int(sum % uint64(h.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
