package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const geminiBatchLimit = 100

type GeminiClient struct {
	client         *genai.Client
	embeddingModel string
	dimension      int
}

type GeminiOption func(*GeminiClient)

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithEmbeddingDimension sets the output dimensionality. Zero keeps the model default.
func WithEmbeddingDimension(dim int) GeminiOption {
	return func(g *GeminiClient) {
		g.dimension = dim
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:         client,
		embeddingModel: "gemini-embedding-001",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) Name() string {
	return "gemini/" + g.embeddingModel
}

func (g *GeminiClient) BatchLimit() int {
	return geminiBatchLimit
}

func (g *GeminiClient) EmbedTexts(ctx context.Context, texts []string) ([]Embedding, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	config := &genai.EmbedContentConfig{}
	if g.dimension > 0 {
		dim := int32(g.dimension)
		config.OutputDimensionality = &dim
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content",
			goerr.V("model", g.embeddingModel),
			goerr.V("count", len(texts)))
	}

	// Vertex AI returns one embedding per content in request order
	out := make([]Embedding, 0, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			continue
		}
		out = append(out, Embedding{Index: i, Vector: emb.Values})
	}
	return out, nil
}
