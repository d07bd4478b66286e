package embedding_test

import (
	"errors"
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/embedding"
	"github.com/m-mizutani/kioku/pkg/model"
)

func TestChunkForEmbedding(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := embedding.ChunkForEmbedding("  Hola. ¿Qué tal?  ", 100)
		gt.A(t, chunks).Length(1)
		gt.Equal(t, chunks[0], "Hola. ¿Qué tal?")
	})

	t.Run("blank text", func(t *testing.T) {
		gt.A(t, embedding.ChunkForEmbedding(" \n ", 10)).Length(0)
	})

	t.Run("splits on sentence boundaries", func(t *testing.T) {
		text := "My dog is Toby. He loves the beach! Do you remember him? We went there last summer."
		chunks := embedding.ChunkForEmbedding(text, 40)
		gt.A(t, chunks).Length(3)
		gt.Equal(t, chunks[0], "My dog is Toby. He loves the beach!")
		gt.Equal(t, chunks[1], "Do you remember him?")
		gt.Equal(t, chunks[2], "We went there last summer.")
		for _, c := range chunks {
			gt.True(t, utf8.RuneCountInString(c) <= 40)
		}
	})

	t.Run("does not split decimals", func(t *testing.T) {
		chunks := embedding.ChunkForEmbedding("Pi is 3.14 roughly. Yes.", 19)
		gt.Equal(t, chunks[0], "Pi is 3.14 roughly.")
	})

	t.Run("hard cuts an oversized sentence", func(t *testing.T) {
		long := strings.Repeat("ñ", 25)
		chunks := embedding.ChunkForEmbedding("Short one. "+long+" end", 10)
		gt.Equal(t, chunks[0], "Short one.")
		gt.Equal(t, chunks[1], strings.Repeat("ñ", 10))
		gt.Equal(t, chunks[2], strings.Repeat("ñ", 10))
		gt.Equal(t, chunks[3], strings.Repeat("ñ", 5)+" end")
	})
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		a := []float32{0.3, -1.2, 4.5}
		sim, err := embedding.CosineSimilarity(a, a)
		gt.NoError(t, err)
		gt.True(t, math.Abs(sim-1) < 1e-9)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		sim, err := embedding.CosineSimilarity([]float32{1, 2}, []float32{-1, -2})
		gt.NoError(t, err)
		gt.True(t, math.Abs(sim+1) < 1e-9)
	})

	t.Run("range holds for arbitrary vectors", func(t *testing.T) {
		vectors := [][]float32{
			{1, 0, 0}, {0, 1, 0}, {1e-20, 1e20, 3}, {-5, 2, 0.001}, {3.4e38, 3.4e38, -3.4e38},
		}
		for _, a := range vectors {
			for _, b := range vectors {
				sim, err := embedding.CosineSimilarity(a, b)
				gt.NoError(t, err)
				gt.True(t, sim >= -1 && sim <= 1)
				gt.False(t, math.IsNaN(sim))
			}
		}
	})

	t.Run("zero magnitude", func(t *testing.T) {
		sim, err := embedding.CosineSimilarity([]float32{0, 0}, []float32{1, 1})
		gt.NoError(t, err)
		gt.Equal(t, sim, 0.0)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := embedding.CosineSimilarity([]float32{1}, []float32{1, 2})
		var dimErr *model.DimensionMismatchError
		gt.True(t, errors.As(err, &dimErr))
	})
}
