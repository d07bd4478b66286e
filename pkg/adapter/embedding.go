package adapter

import "context"

// Embedding is one vector returned by an embedding backend. Index is the
// position of the source text in the request, as reported by the backend.
type Embedding struct {
	Index  int
	Vector []float32
}

// Embedder is an embedding backend. Implementations may return embeddings in
// any order; callers reorder them by Index.
type Embedder interface {
	// Name identifies the backend and model, used as cache namespace
	Name() string
	// BatchLimit is the maximum number of texts accepted by one EmbedTexts call
	BatchLimit() int
	// EmbedTexts embeds texts in one upstream request
	EmbedTexts(ctx context.Context, texts []string) ([]Embedding, error)
}
