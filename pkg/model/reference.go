package model

type ReferenceCategory string

const (
	ReferenceConversation ReferenceCategory = "conversation"
	ReferenceFact         ReferenceCategory = "fact"
	ReferenceEvent        ReferenceCategory = "event"
	ReferencePerson       ReferenceCategory = "person"
)

// ReferenceMatch marks a span of generated text that invokes memory. It is
// metadata for highlighting and never changes the text itself.
type ReferenceMatch struct {
	Category   ReferenceCategory `json:"category"`
	Text       string            `json:"text"`
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Confidence float64           `json:"confidence"`
	ChunkID    string            `json:"chunk_id,omitempty"`
	Pattern    bool              `json:"pattern"`
	Overlap    float64           `json:"overlap"`
}
