package retrieval

import (
	"cmp"
	"context"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/text"
)

const (
	// importance adds at most this much to an event's similarity
	importanceBonus = 0.2

	// knowledge matching ignores words shorter than this
	minKnowledgeTokenLen = 4
)

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func (e *Engine) searchVector(ctx context.Context, req *request) ([]*model.MemoryChunk, error) {
	col, err := e.registry.Get(ctx, req.ownerID)
	if err != nil {
		return nil, err
	}

	oldest := req.now.Add(-req.cfg.MaxAge)
	pred := func(meta model.RecordMetadata) bool {
		if req.subjectID != "" && meta.SubjectID != req.subjectID {
			return false
		}
		if meta.Role != model.RoleUser && meta.Role != model.RoleAssistant {
			return false
		}
		return meta.Timestamp.IsZero() || !meta.Timestamp.Before(oldest)
	}

	hits, err := col.Search(req.embedding, req.cfg.VectorLimit, pred)
	if err != nil {
		return nil, goerr.Wrap(err, "vector search failed", goerr.V("owner", req.ownerID))
	}

	chunks := make([]*model.MemoryChunk, 0, len(hits))
	for _, hit := range hits {
		md := map[string]any{
			"role":       hit.Metadata.Role,
			"subject_id": hit.Metadata.SubjectID,
		}
		for k, v := range hit.Metadata.Attrs {
			if _, ok := md[k]; !ok {
				md[k] = v
			}
		}
		chunks = append(chunks, &model.MemoryChunk{
			ID:        string(hit.ID),
			Content:   hit.Metadata.Content,
			Source:    model.SourceVector,
			Score:     clamp01(hit.Similarity),
			Timestamp: hit.Metadata.Timestamp,
			Metadata:  md,
		})
	}
	return chunks, nil
}

func (e *Engine) searchEpisodic(ctx context.Context, req *request) ([]*model.MemoryChunk, error) {
	events, err := e.reader.SearchEpisodicEvents(ctx, req.ownerID, req.subjectID, req.embedding, req.cfg.EpisodicLimit)
	if err != nil {
		return nil, goerr.Wrap(err, "episodic search failed", goerr.V("owner", req.ownerID))
	}

	chunks := make([]*model.MemoryChunk, 0, len(events))
	for _, se := range events {
		ev := se.Event
		chunks = append(chunks, &model.MemoryChunk{
			ID:        string(ev.ID),
			Content:   ev.Summary,
			Source:    model.SourceEpisodic,
			Score:     clamp01(se.Similarity + importanceBonus*ev.Importance),
			Timestamp: ev.OccurredAt,
			Metadata: map[string]any{
				"importance": ev.Importance,
				"event_type": ev.Type,
				"subject_id": ev.SubjectID,
			},
		})
	}
	if len(chunks) > req.cfg.EpisodicLimit {
		chunks = chunks[:req.cfg.EpisodicLimit]
	}
	return chunks, nil
}

// searchKnowledge scores facts by the share of query tokens they contain
func (e *Engine) searchKnowledge(ctx context.Context, req *request) ([]*model.MemoryChunk, error) {
	queryTokens := text.TokenSet(req.query, minKnowledgeTokenLen)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	facts, err := e.reader.ListFacts(ctx, req.ownerID, req.subjectID)
	if err != nil {
		return nil, goerr.Wrap(err, "knowledge lookup failed", goerr.V("owner", req.ownerID))
	}

	var chunks []*model.MemoryChunk
	for _, fact := range facts {
		factTokens := text.TokenSet(fact.Text(), minKnowledgeTokenLen)
		matched := 0
		for t := range queryTokens {
			if _, ok := factTokens[t]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		chunks = append(chunks, &model.MemoryChunk{
			ID:        string(fact.ID),
			Content:   fact.Text(),
			Source:    model.SourceKnowledge,
			Score:     float64(matched) / float64(len(queryTokens)),
			Timestamp: fact.UpdatedAt,
			Metadata: map[string]any{
				"category":   string(fact.Category),
				"key":        fact.Key,
				"subject_id": fact.SubjectID,
			},
		})
	}

	slices.SortStableFunc(chunks, func(a, b *model.MemoryChunk) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(chunks) > req.cfg.KnowledgeLimit {
		chunks = chunks[:req.cfg.KnowledgeLimit]
	}
	return chunks, nil
}
