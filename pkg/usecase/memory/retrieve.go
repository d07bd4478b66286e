package memory

import (
	"context"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/usecase/retrieval"
)

// RetrieveOptions overrides the UseCase defaults for one call
type RetrieveOptions struct {
	Config      *model.RetrievalConfig
	TokenBudget int
}

// ContextResult is the retrieved memory of one query, ready for a prompt
type ContextResult struct {
	Chunks       []*model.MemoryChunk       `json:"chunks"`
	Summary      string                     `json:"summary"`
	Prompt       string                     `json:"prompt"`
	SourceCounts map[model.MemorySource]int `json:"source_counts"`
	Failed       []model.MemorySource       `json:"failed,omitempty"`
}

// RetrieveContext searches every memory source for query and renders the
// result as a prompt block. It never fails; unavailable sources contribute
// nothing.
func (u *UseCase) RetrieveContext(ctx context.Context, ownerID, subjectID, query string, opts RetrieveOptions) *ContextResult {
	cfg := u.config
	if opts.Config != nil {
		cfg = *opts.Config
	}
	budget := u.tokenBudget
	if opts.TokenBudget > 0 {
		budget = opts.TokenBudget
	}

	res := u.engine.Retrieve(ctx, ownerID, subjectID, query, cfg)
	return &ContextResult{
		Chunks:       res.Chunks,
		Summary:      retrieval.Summary(res.Chunks),
		Prompt:       u.assembler.Assemble(res.Chunks, budget),
		SourceCounts: res.SourceCounts,
		Failed:       res.Failed,
	}
}

// DetectReferences marks the spans of generated text that draw on chunks
func (u *UseCase) DetectReferences(generated string, chunks []*model.MemoryChunk) []*model.ReferenceMatch {
	return u.detector.Detect(generated, chunks)
}
