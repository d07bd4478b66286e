package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/embedding"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/repository"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/m-mizutani/kioku/pkg/vector"
)

// Engine fans a query out to the vector, episodic and knowledge sources and
// fuses their results into one ranked list.
type Engine struct {
	embedder embedding.Embedder
	registry *vector.Registry
	reader   repository.Reader
	now      func() time.Time
}

type Option func(*Engine)

// WithReader enables the episodic and knowledge sources
func WithReader(reader repository.Reader) Option {
	return func(e *Engine) {
		e.reader = reader
	}
}

// WithClock replaces time.Now for recency computation
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(embedder embedding.Embedder, registry *vector.Registry, opts ...Option) *Engine {
	e := &Engine{
		embedder: embedder,
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one retrieval. SourceCounts counts the returned
// chunks per source, Candidates the raw hits before fusion.
type Result struct {
	Chunks       []*model.MemoryChunk
	SourceCounts map[model.MemorySource]int
	Candidates   map[model.MemorySource]int
	Failed       []model.MemorySource
}

func newResult() *Result {
	return &Result{
		SourceCounts: make(map[model.MemorySource]int),
		Candidates:   make(map[model.MemorySource]int),
	}
}

type request struct {
	ownerID   string
	subjectID string
	query     string
	embedding []float32
	cfg       model.RetrievalConfig
	now       time.Time
}

type strategy struct {
	source model.MemorySource
	run    func(ctx context.Context, req *request) ([]*model.MemoryChunk, error)
}

// Retrieve never fails. A source that errors or exceeds cfg.StageTimeout
// contributes nothing and is listed in Result.Failed.
func (e *Engine) Retrieve(ctx context.Context, ownerID, subjectID, query string, cfg model.RetrievalConfig) *Result {
	cfg = cfg.WithDefaults()
	result := newResult()
	logger := logging.From(ctx)

	if query == "" || ownerID == "" {
		return result
	}

	req := &request{
		ownerID:   ownerID,
		subjectID: subjectID,
		query:     query,
		cfg:       cfg,
		now:       e.now(),
	}

	strategies := []strategy{
		{source: model.SourceVector, run: e.searchVector},
	}
	if e.reader != nil {
		strategies = append(strategies,
			strategy{source: model.SourceEpisodic, run: e.searchEpisodic},
			strategy{source: model.SourceKnowledge, run: e.searchKnowledge},
		)
	}

	// the query is embedded once and shared by the vector and episodic sources
	emb, err := runStage(ctx, cfg.StageTimeout, func(ctx context.Context) ([]float32, error) {
		return e.embedder.Embed(ctx, query)
	})
	if err != nil {
		logger.Warn("failed to embed query", "owner", ownerID, "error", err)
	}
	req.embedding = emb

	outputs := make([][]*model.MemoryChunk, len(strategies))
	errs := make([]error, len(strategies))

	var wg sync.WaitGroup
	for i, s := range strategies {
		if s.source != model.SourceKnowledge && req.embedding == nil {
			errs[i] = goerr.New("query embedding unavailable")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			outputs[i], errs[i] = runStage(ctx, cfg.StageTimeout, func(ctx context.Context) ([]*model.MemoryChunk, error) {
				return s.run(ctx, req)
			})
		}()
	}
	wg.Wait()

	var candidates []*model.MemoryChunk
	for i, s := range strategies {
		if errs[i] != nil {
			logger.Warn("memory source failed", "source", s.source, "owner", ownerID, "error", errs[i])
			result.Failed = append(result.Failed, s.source)
			continue
		}
		result.Candidates[s.source] = len(outputs[i])
		candidates = append(candidates, outputs[i]...)
	}

	result.Chunks = Fuse(candidates, cfg, req.now)
	for _, c := range result.Chunks {
		result.SourceCounts[c.Source]++
	}

	logger.Debug("memories retrieved",
		"owner", ownerID,
		"candidates", len(candidates),
		"returned", len(result.Chunks),
		"failed", result.Failed)
	return result
}

// runStage runs fn under timeout. fn keeps running in the background after
// the deadline but its result is discarded.
func runStage[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type output struct {
		value T
		err   error
	}
	ch := make(chan output, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- output{err: goerr.New("memory source panicked", goerr.V("panic", r))}
			}
		}()
		v, err := fn(ctx)
		ch <- output{value: v, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, goerr.Wrap(ctx.Err(), "memory source timed out", goerr.V("timeout", timeout))
	}
}
