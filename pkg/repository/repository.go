package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
)

var ErrAlreadyExists = goerr.New("record already exists")

// Reader is the read side of the store holding messages, episodic events and
// facts. Retrieval only ever reads.
type Reader interface {
	// SearchEpisodicEvents returns up to limit events of owner nearest to
	// embedding, most similar first. An empty subjectID matches every subject.
	SearchEpisodicEvents(ctx context.Context, ownerID, subjectID string, embedding []float32, limit int) ([]*model.ScoredEvent, error)

	// ListFacts returns the facts and preferences of owner. An empty
	// subjectID matches every subject.
	ListFacts(ctx context.Context, ownerID, subjectID string) ([]*model.Fact, error)

	// ListMessages returns messages of owner oldest first. limit <= 0 means no limit.
	ListMessages(ctx context.Context, ownerID string, limit int) ([]*model.Message, error)
}

// Writer stores records. Messages are immutable and putting an existing ID
// fails with ErrAlreadyExists; events and facts are upserted.
type Writer interface {
	PutMessage(ctx context.Context, msg *model.Message) error
	PutEvent(ctx context.Context, event *model.EpisodicEvent) error
	PutFact(ctx context.Context, fact *model.Fact) error
}

type Repository interface {
	Reader
	Writer
	Close() error
}

func validateEvent(event *model.EpisodicEvent) error {
	if event.OwnerID == "" {
		return goerr.Wrap(&model.InputError{Reason: "event owner is blank"}, "invalid event", goerr.V("id", event.ID))
	}
	if len(event.Embedding) == 0 {
		return goerr.Wrap(&model.InputError{Reason: "event has no embedding"}, "invalid event", goerr.V("id", event.ID))
	}
	if event.Importance < 0 || event.Importance > 1 {
		return goerr.Wrap(&model.InputError{Reason: "importance must be within [0, 1]"}, "invalid event",
			goerr.V("id", event.ID), goerr.V("importance", event.Importance))
	}
	return nil
}

func validateOwned(kind, id, ownerID string) error {
	if ownerID == "" {
		return goerr.Wrap(&model.InputError{Reason: kind + " owner is blank"}, "invalid "+kind, goerr.V("id", id))
	}
	return nil
}
