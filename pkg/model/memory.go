package model

import (
	"time"

	"github.com/google/uuid"
)

type RecordID string

// NewRecordID generates a new unique RecordID
func NewRecordID() RecordID {
	return RecordID(uuid.New().String())
}

// Message roles stored in vector collections
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// RecordMetadata is the side-table entry stored next to each vector. Attrs
// hold JSON values, so numbers read back as float64.
type RecordMetadata struct {
	OwnerID   string         `json:"owner_id"`
	SubjectID string         `json:"subject_id"`
	Content   string         `json:"content"`
	Role      string         `json:"role"`
	Timestamp time.Time      `json:"timestamp"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// VectorRecord is a live entry of a vector collection. Label is the dense
// integer key used inside the ANN graph.
type VectorRecord struct {
	ID        RecordID
	Label     uint64
	Embedding []float32
	Metadata  RecordMetadata
}

// SearchResult is a single hit returned by a vector collection search
type SearchResult struct {
	ID         RecordID
	Similarity float64
	Metadata   RecordMetadata
}

// MemorySource identifies which retrieval strategy produced a chunk
type MemorySource string

const (
	SourceVector    MemorySource = "vector"
	SourceEpisodic  MemorySource = "episodic"
	SourceKnowledge MemorySource = "knowledge"
)

// Priority returns the tie-break rank of the source. Higher wins.
func (s MemorySource) Priority() int {
	switch s {
	case SourceEpisodic:
		return 3
	case SourceVector:
		return 2
	case SourceKnowledge:
		return 1
	default:
		return 0
	}
}

// MemoryChunk is the unified shape of a retrieved memory after fusion
type MemoryChunk struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Source    MemorySource   `json:"source"`
	Score     float64        `json:"score"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Importance returns the importance attribute of episodic chunks, if any
func (c *MemoryChunk) Importance() (float64, bool) {
	if c.Metadata == nil {
		return 0, false
	}
	v, ok := c.Metadata["importance"].(float64)
	return v, ok
}
