package model

import "time"

const DefaultMaxAge = 365 * 24 * time.Hour

// RetrievalConfig controls how the fusion engine weights and trims results.
// Weights are advisory and are not normalized.
type RetrievalConfig struct {
	VectorWeight    float64       `yaml:"vector_weight" json:"vector_weight"`
	EpisodicWeight  float64       `yaml:"episodic_weight" json:"episodic_weight"`
	KnowledgeWeight float64       `yaml:"knowledge_weight" json:"knowledge_weight"`
	RecencyBoost    float64       `yaml:"recency_boost" json:"recency_boost"`
	MinScore        float64       `yaml:"min_score" json:"min_score"`
	MaxChunks       int           `yaml:"max_chunks" json:"max_chunks"`
	MaxAge          time.Duration `yaml:"max_age" json:"max_age"`

	VectorLimit    int `yaml:"vector_limit" json:"vector_limit"`
	EpisodicLimit  int `yaml:"episodic_limit" json:"episodic_limit"`
	KnowledgeLimit int `yaml:"knowledge_limit" json:"knowledge_limit"`

	StageTimeout time.Duration `yaml:"stage_timeout" json:"stage_timeout"`
}

// DefaultRetrievalConfig returns the general purpose fusion settings
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		VectorWeight:    0.4,
		EpisodicWeight:  0.4,
		KnowledgeWeight: 0.2,
		RecencyBoost:    0.3,
		MinScore:        0.3,
		MaxChunks:       10,
		MaxAge:          DefaultMaxAge,
		VectorLimit:     5,
		EpisodicLimit:   5,
		KnowledgeLimit:  3,
		StageTimeout:    time.Second,
	}
}

// Weight returns the configured weight of the given source
func (c RetrievalConfig) Weight(src MemorySource) float64 {
	switch src {
	case SourceVector:
		return c.VectorWeight
	case SourceEpisodic:
		return c.EpisodicWeight
	case SourceKnowledge:
		return c.KnowledgeWeight
	default:
		return 0
	}
}

// WithDefaults fills zero-valued limits with default values. Weights, boost
// and min score are kept as given since zero is meaningful for them.
func (c RetrievalConfig) WithDefaults() RetrievalConfig {
	d := DefaultRetrievalConfig()
	if c.MaxChunks <= 0 {
		c.MaxChunks = d.MaxChunks
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	if c.VectorLimit <= 0 {
		c.VectorLimit = d.VectorLimit
	}
	if c.EpisodicLimit <= 0 {
		c.EpisodicLimit = d.EpisodicLimit
	}
	if c.KnowledgeLimit <= 0 {
		c.KnowledgeLimit = d.KnowledgeLimit
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = d.StageTimeout
	}
	return c
}
