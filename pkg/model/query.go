package model

type QueryType string

const (
	QueryTypeNone         QueryType = "none"
	QueryTypeRecall       QueryType = "recall"
	QueryTypeVerification QueryType = "verification"
	QueryTypeRetrieval    QueryType = "retrieval"
)

type TemporalHint string

const (
	TemporalNone     TemporalHint = ""
	TemporalRecent   TemporalHint = "recent"
	TemporalSpecific TemporalHint = "specific"
	TemporalPast     TemporalHint = "past"
)

// QueryDetection is the classifier verdict for a single message. It is
// computed per message and never persisted.
type QueryDetection struct {
	IsQuery      bool         `json:"is_query"`
	Confidence   float64      `json:"confidence"`
	QueryType    QueryType    `json:"query_type"`
	Tier         string       `json:"tier,omitempty"`
	Keywords     []string     `json:"keywords"`
	TemporalHint TemporalHint `json:"temporal_hint,omitempty"`
	Topic        string       `json:"topic,omitempty"`
}

// NotQuery returns the neutral detection result
func NotQuery() *QueryDetection {
	return &QueryDetection{
		QueryType: QueryTypeNone,
		Keywords:  []string{},
	}
}
