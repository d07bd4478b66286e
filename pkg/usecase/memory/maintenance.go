package memory

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

var (
	ErrNoRepository = goerr.New("memory repository is not configured")
)

// Stats describes the vector collection of one owner
type Stats struct {
	OwnerID    string `json:"owner_id"`
	Size       int    `json:"size"`
	Tombstones int    `json:"tombstones"`
	Capacity   int    `json:"capacity"`
	Dimension  int    `json:"dimension"`
	Dirty      bool   `json:"dirty"`
}

func (u *UseCase) Stats(ctx context.Context, ownerID string) (*Stats, error) {
	col, err := u.registry.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &Stats{
		OwnerID:    ownerID,
		Size:       col.Size(),
		Tombstones: col.Tombstones(),
		Capacity:   col.Capacity(),
		Dimension:  col.Dimension(),
		Dirty:      col.Dirty(),
	}, nil
}

// ClearMemories forgets every vector record of the owner, persisted
// artifacts included. Rows in the repository are kept so Reindex can
// rebuild the collection.
func (u *UseCase) ClearMemories(ctx context.Context, ownerID string) error {
	if err := u.registry.Drop(ctx, ownerID); err != nil {
		return goerr.Wrap(err, "failed to clear memories", goerr.V("owner", ownerID))
	}
	logging.From(ctx).Info("memories cleared", "owner", ownerID)
	return nil
}

// Compact reclaims tombstoned slots of the owner's collection and persists
// the result. It returns the number of reclaimed slots.
func (u *UseCase) Compact(ctx context.Context, ownerID string) (int, error) {
	col, err := u.registry.Get(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	n, err := col.Compact()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to compact collection", goerr.V("owner", ownerID))
	}
	if err := u.registry.Persist(ctx, ownerID); err != nil {
		return n, err
	}
	return n, nil
}

// Persist writes every changed collection to storage
func (u *UseCase) Persist(ctx context.Context) error {
	return u.registry.PersistAll(ctx)
}

// Reindex rebuilds the owner's collection from the message store, for
// example after the index artifacts were lost. It returns the number of
// messages indexed.
func (u *UseCase) Reindex(ctx context.Context, ownerID string) (int, error) {
	if u.reader == nil {
		return 0, goerr.Wrap(ErrNoRepository, "cannot reindex", goerr.V("owner", ownerID))
	}

	messages, err := u.reader.ListMessages(ctx, ownerID, 0)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list messages", goerr.V("owner", ownerID))
	}
	if err := u.registry.Drop(ctx, ownerID); err != nil {
		return 0, goerr.Wrap(err, "failed to drop collection", goerr.V("owner", ownerID))
	}

	var indexed int
	for _, msg := range messages {
		if _, skipped := u.index(ctx, msg, map[string]any{}); skipped != "" {
			logging.From(ctx).Warn("message not reindexed", "message_id", msg.ID, "reason", skipped)
			continue
		}
		indexed++
	}

	if err := u.registry.Persist(ctx, ownerID); err != nil {
		return indexed, err
	}
	logging.From(ctx).Info("collection reindexed", "owner", ownerID, "messages", indexed, "total", len(messages))
	return indexed, nil
}

// ImportEvent saves an episodic event, embedding its summary when it has
// no embedding yet
func (u *UseCase) ImportEvent(ctx context.Context, ev *model.EpisodicEvent) error {
	if u.writer == nil {
		return goerr.Wrap(ErrNoRepository, "cannot import event")
	}
	if ev.ID == "" {
		ev.ID = model.NewEventID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = u.now()
	}
	if len(ev.Embedding) == 0 {
		if strings.TrimSpace(ev.Summary) == "" {
			return goerr.Wrap(&model.InputError{Reason: "event summary is blank"}, "cannot import event")
		}
		vec, err := u.embedder.Embed(ctx, ev.Summary)
		if err != nil {
			return goerr.Wrap(err, "failed to embed event", goerr.V("event_id", ev.ID))
		}
		ev.Embedding = vec
	}
	return u.writer.PutEvent(ctx, ev)
}

// ImportFact saves a fact
func (u *UseCase) ImportFact(ctx context.Context, fact *model.Fact) error {
	if u.writer == nil {
		return goerr.Wrap(ErrNoRepository, "cannot import fact")
	}
	if fact.ID == "" {
		fact.ID = model.NewFactID()
	}
	if fact.Category == "" {
		fact.Category = model.FactCategoryFact
	}
	if fact.UpdatedAt.IsZero() {
		fact.UpdatedAt = u.now()
	}
	return u.writer.PutFact(ctx, fact)
}
