package retrieval

import (
	"cmp"
	"slices"
	"time"

	"github.com/m-mizutani/kioku/pkg/model"
)

// recency returns 1 for now and decays linearly to 0 at maxAge. Unknown
// timestamps get no boost.
func recency(ts, now time.Time, maxAge time.Duration) float64 {
	if ts.IsZero() || maxAge <= 0 {
		return 0
	}
	age := max(now.Sub(ts), 0)
	return max(0, 1-float64(age)/float64(maxAge))
}

// compareChunks orders by score, then source priority, then newer first,
// then ID. It is a total order so ranking is deterministic.
func compareChunks(a, b *model.MemoryChunk) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Source.Priority(), a.Source.Priority()); c != 0 {
		return c
	}
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Fuse weights each candidate's raw score by its source, adds the recency
// boost, and returns the top cfg.MaxChunks chunks with score >= cfg.MinScore.
// Candidates are copied; the input is not modified.
func Fuse(candidates []*model.MemoryChunk, cfg model.RetrievalConfig, now time.Time) []*model.MemoryChunk {
	fused := make([]*model.MemoryChunk, 0, len(candidates))
	for _, c := range candidates {
		weighted := c.Score * cfg.Weight(c.Source)
		boosted := min(1, weighted+recency(c.Timestamp, now, cfg.MaxAge)*cfg.RecencyBoost)
		if boosted < cfg.MinScore {
			continue
		}

		copied := *c
		copied.Score = boosted
		copied.Metadata = make(map[string]any, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			copied.Metadata[k] = v
		}
		copied.Metadata["raw_score"] = c.Score
		fused = append(fused, &copied)
	}

	slices.SortStableFunc(fused, compareChunks)
	if cfg.MaxChunks > 0 && len(fused) > cfg.MaxChunks {
		fused = fused[:cfg.MaxChunks]
	}
	return fused
}
