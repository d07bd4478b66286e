package repository

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	chromem "github.com/philippgille/chromem-go"
)

// Memory is an in-process Repository. Episodic events are indexed in a
// chromem-go collection per owner; messages and facts live in maps.
type Memory struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	events      map[model.EventID]*model.EpisodicEvent
	facts       map[model.FactID]*model.Fact
	messages    map[model.MessageID]*model.Message
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		events:      make(map[model.EventID]*model.EpisodicEvent),
		facts:       make(map[model.FactID]*model.Fact),
		messages:    make(map[model.MessageID]*model.Message),
	}
}

func (m *Memory) collection(ownerID string, create bool) (*chromem.Collection, error) {
	m.mu.RLock()
	col, ok := m.collections[ownerID]
	m.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if col, ok := m.collections[ownerID]; ok {
		return col, nil
	}

	col, err := m.db.CreateCollection("events_"+ownerID, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create event collection", goerr.V("owner", ownerID))
	}
	m.collections[ownerID] = col
	return col, nil
}

func (m *Memory) PutMessage(ctx context.Context, msg *model.Message) error {
	if err := validateOwned("message", string(msg.ID), msg.OwnerID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return goerr.Wrap(ErrAlreadyExists, "message exists", goerr.V("id", msg.ID))
	}
	copied := *msg
	m.messages[msg.ID] = &copied
	return nil
}

func (m *Memory) PutEvent(ctx context.Context, event *model.EpisodicEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	col, err := m.collection(event.OwnerID, true)
	if err != nil {
		return err
	}

	// chromem has no upsert; replace by deleting first
	if err := col.Delete(ctx, nil, nil, string(event.ID)); err != nil {
		return goerr.Wrap(err, "failed to replace event", goerr.V("id", event.ID))
	}
	doc := chromem.Document{
		ID:        string(event.ID),
		Content:   event.Summary,
		Embedding: slices.Clone([]float32(event.Embedding)),
		Metadata: map[string]string{
			"subject_id": event.SubjectID,
			"type":       event.Type,
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add event", goerr.V("id", event.ID))
	}

	copied := *event
	copied.Embedding = slices.Clone(event.Embedding)
	m.mu.Lock()
	m.events[event.ID] = &copied
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutFact(ctx context.Context, fact *model.Fact) error {
	if err := validateOwned("fact", string(fact.ID), fact.OwnerID); err != nil {
		return err
	}
	copied := *fact
	m.mu.Lock()
	m.facts[fact.ID] = &copied
	m.mu.Unlock()
	return nil
}

func (m *Memory) SearchEpisodicEvents(ctx context.Context, ownerID, subjectID string, embedding []float32, limit int) ([]*model.ScoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	col, err := m.collection(ownerID, false)
	if err != nil || col == nil {
		return nil, err
	}

	// chromem rejects nResults above the document count
	n := min(limit, col.Count())
	if n == 0 {
		return nil, nil
	}

	var where map[string]string
	if subjectID != "" {
		where = map[string]string{"subject_id": subjectID}
	}
	results, err := col.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query events", goerr.V("owner", ownerID))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	scored := make([]*model.ScoredEvent, 0, len(results))
	for _, r := range results {
		event, ok := m.events[model.EventID(r.ID)]
		if !ok {
			continue
		}
		copied := *event
		scored = append(scored, &model.ScoredEvent{
			Event:      &copied,
			Similarity: float64(r.Similarity),
		})
	}
	return scored, nil
}

func (m *Memory) ListFacts(ctx context.Context, ownerID, subjectID string) ([]*model.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var facts []*model.Fact
	for _, f := range m.facts {
		if f.OwnerID != ownerID || (subjectID != "" && f.SubjectID != subjectID) {
			continue
		}
		copied := *f
		facts = append(facts, &copied)
	}
	slices.SortFunc(facts, func(a, b *model.Fact) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return facts, nil
}

func (m *Memory) ListMessages(ctx context.Context, ownerID string, limit int) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var messages []*model.Message
	for _, msg := range m.messages {
		if msg.OwnerID != ownerID {
			continue
		}
		copied := *msg
		messages = append(messages, &copied)
	}
	slices.SortFunc(messages, func(a, b *model.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (m *Memory) Close() error {
	return nil
}
