package memory

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/m-mizutani/kioku/pkg/embedding"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/policy"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/m-mizutani/kioku/pkg/vector"
)

// StoreInput is a conversation turn to remember
type StoreInput struct {
	Content  string
	Role     string
	Metadata map[string]any

	// Timestamp defaults to the current time
	Timestamp time.Time
}

// StoreResult reports what StoreMessage did. Skipped is empty when the
// message was stored.
type StoreResult struct {
	MessageID model.MessageID  `json:"message_id"`
	RecordIDs []model.RecordID `json:"record_ids"`
	Skipped   string           `json:"skipped,omitempty"`
	Reasons   []string         `json:"reasons,omitempty"`
}

// Stored reports whether at least one chunk reached the vector collection
func (x *StoreResult) Stored() bool {
	return x.Skipped == "" && len(x.RecordIDs) > 0
}

const (
	SkipInvalidInput = "invalid input"
	SkipPolicy       = "rejected by policy"
	SkipEmbedding    = "embedding failed"
	SkipCollection   = "collection unavailable"
)

// StoreMessage chunks, embeds and indexes a message in the owner's
// collection. It never returns an error: failures are logged and reported
// through StoreResult.Skipped.
func (u *UseCase) StoreMessage(ctx context.Context, ownerID, subjectID string, in StoreInput) *StoreResult {
	logger := logging.From(ctx).With("owner", ownerID)
	result := &StoreResult{MessageID: model.NewMessageID()}

	content := strings.TrimSpace(in.Content)
	role := in.Role
	if role == "" {
		role = model.RoleUser
	}
	switch {
	case ownerID == "":
		result.Skipped = SkipInvalidInput
		result.Reasons = []string{"owner ID is blank"}
	case content == "":
		result.Skipped = SkipInvalidInput
		result.Reasons = []string{"content is blank"}
	case role != model.RoleUser && role != model.RoleAssistant && role != model.RoleSystem:
		result.Skipped = SkipInvalidInput
		result.Reasons = []string{"unknown role: " + role}
	}
	if result.Skipped != "" {
		logger.Debug("message not stored", "reason", result.Reasons)
		return result
	}

	attrs := make(map[string]any, len(in.Metadata)+3)
	maps.Copy(attrs, in.Metadata)

	if u.policy != nil {
		decision, err := u.policy.Evaluate(ctx, &policy.Input{
			OwnerID:   ownerID,
			SubjectID: subjectID,
			Role:      role,
			Content:   content,
			Metadata:  in.Metadata,
		})
		if err != nil {
			logger.Error("failed to evaluate storage policy", "error", err)
			result.Skipped = SkipPolicy
			result.Reasons = []string{"policy evaluation failed"}
			return result
		}
		if !decision.Allow {
			logger.Debug("message rejected by policy", "reasons", decision.Reasons)
			result.Skipped = SkipPolicy
			result.Reasons = decision.Reasons
			return result
		}
		maps.Copy(attrs, decision.Attrs)
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = u.now()
	}

	msg := &model.Message{
		ID:        result.MessageID,
		OwnerID:   ownerID,
		SubjectID: subjectID,
		Role:      role,
		Content:   content,
		CreatedAt: ts,
	}

	ids, skipped := u.index(ctx, msg, attrs)
	result.RecordIDs = ids
	result.Skipped = skipped
	if skipped != "" {
		return result
	}

	if u.writer != nil {
		if err := u.writer.PutMessage(ctx, msg); err != nil {
			logger.Warn("failed to save message", "message_id", msg.ID, "error", err)
		}
	}

	logger.Debug("message stored", "message_id", msg.ID, "chunks", len(ids))
	return result
}

// index adds the chunks of msg to the owner's collection and returns the
// new record IDs, or the reason nothing was added
func (u *UseCase) index(ctx context.Context, msg *model.Message, attrs map[string]any) ([]model.RecordID, string) {
	logger := logging.From(ctx).With("owner", msg.OwnerID)

	chunks := embedding.ChunkForEmbedding(msg.Content, u.maxChunkLen)
	vectors, err := u.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		logger.Error("failed to embed message", "message_id", msg.ID, "error", err)
		return nil, SkipEmbedding
	}

	col, err := u.registry.Get(ctx, msg.OwnerID)
	if err != nil {
		logger.Error("failed to open collection", "error", err)
		return nil, SkipCollection
	}

	items := make([]vector.BatchItem, len(chunks))
	for i, chunk := range chunks {
		chunkAttrs := make(map[string]any, len(attrs)+3)
		maps.Copy(chunkAttrs, attrs)
		chunkAttrs["message_id"] = string(msg.ID)
		if len(chunks) > 1 {
			chunkAttrs["chunk_index"] = i
			chunkAttrs["chunk_count"] = len(chunks)
		}
		items[i] = vector.BatchItem{
			Embedding: vectors[i],
			Metadata: model.RecordMetadata{
				OwnerID:   msg.OwnerID,
				SubjectID: msg.SubjectID,
				Content:   chunk,
				Role:      msg.Role,
				Timestamp: msg.CreatedAt,
				Attrs:     chunkAttrs,
			},
		}
	}

	ids, err := col.AddBatch(items)
	if err != nil {
		logger.Error("failed to index message", "message_id", msg.ID, "added", len(ids), "error", err)
		if len(ids) == 0 {
			return nil, SkipCollection
		}
	}
	return ids, ""
}
