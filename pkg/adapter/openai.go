package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAIBatchLimit = 256

type OpenAIClient struct {
	client    openai.Client
	model     string
	dimension int
	baseURL   string
}

type OpenAIOption func(*OpenAIClient)

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.model = model
	}
}

// WithOpenAIDimension requests shortened embeddings. Zero keeps the model default.
func WithOpenAIDimension(dim int) OpenAIOption {
	return func(c *OpenAIClient) {
		c.dimension = dim
	}
}

// WithOpenAIBaseURL points the client at an OpenAI compatible endpoint
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.baseURL = url
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		model: string(openai.EmbeddingModelTextEmbedding3Small),
	}
	for _, opt := range opts {
		opt(c)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	c.client = openai.NewClient(reqOpts...)
	return c
}

func (c *OpenAIClient) Name() string {
	return "openai/" + c.model
}

func (c *OpenAIClient) BatchLimit() int {
	return openAIBatchLimit
}

func (c *OpenAIClient) EmbedTexts(ctx context.Context, texts []string) ([]Embedding, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if c.dimension > 0 {
		params.Dimensions = openai.Int(int64(c.dimension))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embeddings",
			goerr.V("model", c.model),
			goerr.V("count", len(texts)))
	}

	out := make([]Embedding, 0, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out = append(out, Embedding{Index: int(d.Index), Vector: vec})
	}
	return out, nil
}
