package embedding

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour
)

// Embedder turns text into fixed-dimension vectors
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Provider wraps an embedding backend with input validation, batching,
// response reordering, dimension checks and a TTL cache.
type Provider struct {
	backend   adapter.Embedder
	dimension atomic.Int64

	cacheSize int
	cacheTTL  time.Duration
	cache     *ristretto.Cache
}

type Option func(*Provider)

// WithDimension fixes the expected vector length. Without it the length of
// the first response is used.
func WithDimension(dim int) Option {
	return func(p *Provider) {
		p.dimension.Store(int64(dim))
	}
}

// WithCache sets the cache capacity in entries and the entry TTL. A size of
// zero disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(p *Provider) {
		p.cacheSize = size
		p.cacheTTL = ttl
	}
}

func New(backend adapter.Embedder, opts ...Option) (*Provider, error) {
	p := &Provider{
		backend:   backend,
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: int64(p.cacheSize) * 10,
			MaxCost:     int64(p.cacheSize),
			BufferItems: 64,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create embedding cache")
		}
		p.cache = cache
	}

	return p, nil
}

// Dimensions returns the vector length, or 0 if not known yet
func (p *Provider) Dimensions() int {
	return int(p.dimension.Load())
}

// Embed returns the embedding of a single text
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(&model.InputError{Reason: "text is blank"}, "failed to embed text")
	}

	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts, splitting the request by the backend batch limit.
// The i-th output always belongs to the i-th input.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, goerr.Wrap(&model.InputError{Reason: fmt.Sprintf("text at index %d is blank", i)},
				"failed to embed batch", goerr.V("index", i))
		}
	}

	results := make([][]float32, len(texts))
	var misses []int
	for i, text := range texts {
		if vec, ok := p.cached(text); ok {
			results[i] = vec
			continue
		}
		misses = append(misses, i)
	}

	if len(misses) > 0 {
		logging.From(ctx).Debug("embedding texts",
			"backend", p.backend.Name(),
			"requested", len(texts),
			"cache_miss", len(misses))
	}

	limit := max(p.backend.BatchLimit(), 1)
	for start := 0; start < len(misses); start += limit {
		end := min(start+limit, len(misses))
		batch := make([]string, 0, end-start)
		for _, idx := range misses[start:end] {
			batch = append(batch, texts[idx])
		}

		vectors, err := p.embedChunk(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			idx := misses[start+j]
			results[idx] = vec
			p.store(texts[idx], vec)
		}
	}

	return results, nil
}

func (p *Provider) embedChunk(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := p.backend.EmbedTexts(ctx, batch)
	if err != nil {
		return nil, goerr.Wrap(&model.ProviderError{Provider: p.backend.Name(), Err: err},
			"embedding request failed", goerr.V("count", len(batch)))
	}

	ordered := make([][]float32, len(batch))
	for _, emb := range resp {
		if emb.Index < 0 || emb.Index >= len(batch) {
			return nil, goerr.Wrap(&model.ProviderError{
				Provider: p.backend.Name(),
				Err:      fmt.Errorf("embedding index %d out of range", emb.Index),
			}, "invalid embedding response")
		}
		if ordered[emb.Index] != nil {
			return nil, goerr.Wrap(&model.ProviderError{
				Provider: p.backend.Name(),
				Err:      fmt.Errorf("duplicated embedding index %d", emb.Index),
			}, "invalid embedding response")
		}
		if err := p.checkDimension(len(emb.Vector)); err != nil {
			return nil, err
		}
		ordered[emb.Index] = emb.Vector
	}

	for i, vec := range ordered {
		if vec == nil {
			return nil, goerr.Wrap(&model.ProviderError{
				Provider: p.backend.Name(),
				Err:      fmt.Errorf("missing embedding for index %d", i),
			}, "invalid embedding response")
		}
	}
	return ordered, nil
}

func (p *Provider) checkDimension(n int) error {
	if n == 0 {
		return goerr.Wrap(&model.ProviderError{
			Provider: p.backend.Name(),
			Err:      fmt.Errorf("empty embedding vector"),
		}, "invalid embedding response")
	}
	if p.dimension.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if expected := int(p.dimension.Load()); expected != n {
		return goerr.Wrap(&model.DimensionMismatchError{Expected: expected, Actual: n},
			"embedding has unexpected dimension", goerr.V("backend", p.backend.Name()))
	}
	return nil
}

func (p *Provider) cacheKey(text string) string {
	return p.backend.Name() + "\x00" + text
}

func (p *Provider) cached(text string) ([]float32, bool) {
	if p.cache == nil {
		return nil, false
	}
	v, ok := p.cache.Get(p.cacheKey(text))
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	return slices.Clone(vec), true
}

func (p *Provider) store(text string, vec []float32) {
	if p.cache == nil {
		return
	}
	p.cache.SetWithTTL(p.cacheKey(text), slices.Clone(vec), 1, p.cacheTTL)
}

// Flush blocks until pending cache writes are applied
func (p *Provider) Flush() {
	if p.cache != nil {
		p.cache.Wait()
	}
}

// Close releases the cache
func (p *Provider) Close() {
	if p.cache != nil {
		p.cache.Close()
	}
}
