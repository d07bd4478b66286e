package repository

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionOwners   = "owners"
	collectionMessages = "messages"
	collectionEvents   = "events"
	collectionFacts    = "facts"

	distanceField = "vector_distance"
)

// Firestore implements Repository. Records are kept in subcollections of
// owners/{ownerID}; event search uses a vector index on Embedding.
type Firestore struct {
	client *firestore.Client
}

var _ Repository = (*Firestore)(nil)

// New creates a Firestore repository for the given project and database
func New(ctx context.Context, projectID, databaseID string, opts ...option.ClientOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}
	return &Firestore{client: client}, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) owner(ownerID string, kind string) *firestore.CollectionRef {
	return r.client.Collection(collectionOwners).Doc(ownerID).Collection(kind)
}

func (r *Firestore) PutMessage(ctx context.Context, msg *model.Message) error {
	if err := validateOwned("message", string(msg.ID), msg.OwnerID); err != nil {
		return err
	}

	_, err := r.owner(msg.OwnerID, collectionMessages).Doc(string(msg.ID)).Create(ctx, msg)
	if status.Code(err) == codes.AlreadyExists {
		return goerr.Wrap(ErrAlreadyExists, "message exists", goerr.V("id", msg.ID))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to create message", goerr.V("id", msg.ID))
	}
	return nil
}

func (r *Firestore) PutEvent(ctx context.Context, event *model.EpisodicEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	if _, err := r.owner(event.OwnerID, collectionEvents).Doc(string(event.ID)).Set(ctx, event); err != nil {
		return goerr.Wrap(err, "failed to put event", goerr.V("id", event.ID))
	}
	return nil
}

func (r *Firestore) PutFact(ctx context.Context, fact *model.Fact) error {
	if err := validateOwned("fact", string(fact.ID), fact.OwnerID); err != nil {
		return err
	}

	if _, err := r.owner(fact.OwnerID, collectionFacts).Doc(string(fact.ID)).Set(ctx, fact); err != nil {
		return goerr.Wrap(err, "failed to put fact", goerr.V("id", fact.ID))
	}
	return nil
}

func (r *Firestore) SearchEpisodicEvents(ctx context.Context, ownerID, subjectID string, embedding []float32, limit int) ([]*model.ScoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := r.owner(ownerID, collectionEvents).Query
	if subjectID != "" {
		q = q.Where("SubjectID", "==", subjectID)
	}
	vq := q.FindNearest("Embedding", firestore.Vector32(embedding), limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var scored []*model.ScoredEvent
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search events", goerr.V("owner", ownerID))
		}

		var event model.EpisodicEvent
		if err := doc.DataTo(&event); err != nil {
			return nil, goerr.Wrap(err, "failed to decode event", goerr.V("id", doc.Ref.ID))
		}

		// cosine distance is 1 - cosine similarity
		distance, _ := doc.Data()[distanceField].(float64)
		scored = append(scored, &model.ScoredEvent{Event: &event, Similarity: 1 - distance})
	}
	return scored, nil
}

func (r *Firestore) ListFacts(ctx context.Context, ownerID, subjectID string) ([]*model.Fact, error) {
	q := r.owner(ownerID, collectionFacts).Query
	if subjectID != "" {
		q = q.Where("SubjectID", "==", subjectID)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var facts []*model.Fact
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list facts", goerr.V("owner", ownerID))
		}

		var fact model.Fact
		if err := doc.DataTo(&fact); err != nil {
			return nil, goerr.Wrap(err, "failed to decode fact", goerr.V("id", doc.Ref.ID))
		}
		facts = append(facts, &fact)
	}
	return facts, nil
}

func (r *Firestore) ListMessages(ctx context.Context, ownerID string, limit int) ([]*model.Message, error) {
	q := r.owner(ownerID, collectionMessages).OrderBy("CreatedAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var messages []*model.Message
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list messages", goerr.V("owner", ownerID))
		}

		var msg model.Message
		if err := doc.DataTo(&msg); err != nil {
			return nil, goerr.Wrap(err, "failed to decode message", goerr.V("id", doc.Ref.ID))
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}
