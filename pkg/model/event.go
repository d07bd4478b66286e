package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

type MessageID string

// NewMessageID generates a new unique MessageID
func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

// Message is a raw conversation turn kept in the message store
type Message struct {
	ID        MessageID `json:"id" yaml:"id"`
	OwnerID   string    `json:"owner_id" yaml:"owner_id"`
	SubjectID string    `json:"subject_id" yaml:"subject_id"`
	Role      string    `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type EventID string

// NewEventID generates a new unique EventID
func NewEventID() EventID {
	return EventID(uuid.New().String())
}

// EpisodicEvent is a discrete remembered event with an importance weight
type EpisodicEvent struct {
	ID         EventID            `json:"id" yaml:"id"`
	OwnerID    string             `json:"owner_id" yaml:"owner_id"`
	SubjectID  string             `json:"subject_id" yaml:"subject_id"`
	Type       string             `json:"type" yaml:"type"`
	Summary    string             `json:"summary" yaml:"summary"`
	Importance float64            `json:"importance" yaml:"importance"`
	Embedding  firestore.Vector32 `json:"embedding,omitempty" yaml:"-"`
	OccurredAt time.Time          `json:"occurred_at" yaml:"occurred_at"`
}

// ScoredEvent is an episodic event paired with its similarity to a query
type ScoredEvent struct {
	Event      *EpisodicEvent
	Similarity float64
}

type FactID string

// NewFactID generates a new unique FactID
func NewFactID() FactID {
	return FactID(uuid.New().String())
}

type FactCategory string

const (
	FactCategoryFact       FactCategory = "fact"
	FactCategoryPreference FactCategory = "preference"
)

// Fact is a small structured key/value memory such as a preference
type Fact struct {
	ID        FactID       `json:"id" yaml:"id"`
	OwnerID   string       `json:"owner_id" yaml:"owner_id"`
	SubjectID string       `json:"subject_id" yaml:"subject_id"`
	Category  FactCategory `json:"category" yaml:"category"`
	Key       string       `json:"key" yaml:"key"`
	Value     string       `json:"value" yaml:"value"`
	UpdatedAt time.Time    `json:"updated_at" yaml:"updated_at"`
}

// Text returns the searchable text of the fact
func (f *Fact) Text() string {
	return f.Key + ": " + f.Value
}
