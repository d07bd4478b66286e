package memory

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/m-mizutani/kioku/pkg/utils/text"
)

const (
	// detections below this confidence are not searched
	MinQueryConfidence = 0.4

	searchKeywordLimit = 5
	fallbackQuery      = "memoria recuerdos pasado"
)

// HandleConfig tunes HandleMemoryQuery. Zero fields take the defaults.
type HandleConfig struct {
	MaxMemories int
	MinScore    float64
	TokenBudget int
}

func DefaultHandleConfig() HandleConfig {
	return HandleConfig{
		MaxMemories: 5,
		MinScore:    0.5,
		TokenBudget: 1000,
	}
}

func (c HandleConfig) withDefaults() HandleConfig {
	d := DefaultHandleConfig()
	if c.MaxMemories <= 0 {
		c.MaxMemories = d.MaxMemories
	}
	if c.MinScore <= 0 {
		c.MinScore = d.MinScore
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = d.TokenBudget
	}
	return c
}

// retrievalConfig overrides the weights and limits of base: events and past
// conversations rank above facts and the recency boost is lowered, since the
// user is explicitly asking about the past
func (c HandleConfig) retrievalConfig(base model.RetrievalConfig) model.RetrievalConfig {
	cfg := base
	cfg.EpisodicWeight = 0.5
	cfg.VectorWeight = 0.4
	cfg.KnowledgeWeight = 0.1
	cfg.RecencyBoost = 0.2
	cfg.MaxChunks = c.MaxMemories
	cfg.MinScore = c.MinScore
	return cfg
}

// QueryMetadata describes the search behind a QueryResult
type QueryMetadata struct {
	SearchTime    time.Duration              `json:"search_time"`
	MemoriesFound int                        `json:"memories_found"`
	AverageScore  float64                    `json:"average_score"`
	SourceCounts  map[model.MemorySource]int `json:"source_counts"`
	SearchQuery   string                     `json:"search_query,omitempty"`
}

// QueryResult is the outcome of HandleMemoryQuery
type QueryResult struct {
	Detected      bool                  `json:"detected"`
	Detection     *model.QueryDetection `json:"detection"`
	Memories      []*model.MemoryChunk  `json:"memories"`
	ContextPrompt string                `json:"context_prompt"`
	Metadata      QueryMetadata         `json:"metadata"`
}

// DetectMemoryQuery classifies message. A classifier panic is logged and
// reported as a non-query.
func (u *UseCase) DetectMemoryQuery(ctx context.Context, message string) (detection *model.QueryDetection) {
	defer func() {
		if r := recover(); r != nil {
			logging.From(ctx).Error("query classifier panicked", "panic", r)
			detection = model.NotQuery()
		}
	}()
	return u.classifier.Classify(message)
}

// buildSearchQuery joins the leading keywords and the topic, skipping the
// topic when the keywords already contain it
func buildSearchQuery(d *model.QueryDetection) string {
	var parts []string
	if len(d.Keywords) > 0 {
		parts = append(parts, strings.Join(d.Keywords[:min(len(d.Keywords), searchKeywordLimit)], " "))
	}
	if d.Topic != "" && !strings.Contains(text.FoldString(strings.Join(parts, " ")), text.FoldString(d.Topic)) {
		parts = append(parts, d.Topic)
	}

	q := strings.TrimSpace(strings.Join(parts, " "))
	if q == "" {
		return fallbackQuery
	}
	return q
}

// HandleMemoryQuery answers a message that may ask about the past. Messages
// that are not memory queries return Detected=false and an empty prompt.
func (u *UseCase) HandleMemoryQuery(ctx context.Context, message, ownerID, subjectID string, cfg HandleConfig) *QueryResult {
	start := time.Now()
	cfg = cfg.withDefaults()
	logger := logging.From(ctx).With("owner", ownerID)

	detection := u.DetectMemoryQuery(ctx, message)
	result := &QueryResult{
		Detection: detection,
		Memories:  []*model.MemoryChunk{},
		Metadata: QueryMetadata{
			SourceCounts: map[model.MemorySource]int{},
		},
	}

	if !detection.IsQuery || detection.Confidence < MinQueryConfidence {
		logger.Debug("not a memory query", "confidence", detection.Confidence)
		result.Metadata.SearchTime = time.Since(start)
		return result
	}

	result.Detected = true
	query := buildSearchQuery(detection)
	logger.Info("memory query detected",
		"type", detection.QueryType,
		"tier", detection.Tier,
		"confidence", detection.Confidence,
		"search_query", query)

	res := u.engine.Retrieve(ctx, ownerID, subjectID, query, cfg.retrievalConfig(u.config))
	if len(res.Chunks) > 0 {
		result.Memories = res.Chunks
	}
	result.ContextPrompt = u.assembler.AssembleForQuery(detection, res.Chunks, cfg.TokenBudget)

	var total float64
	for _, c := range result.Memories {
		total += c.Score
	}
	result.Metadata.SearchQuery = query
	result.Metadata.MemoriesFound = len(result.Memories)
	result.Metadata.SourceCounts = res.SourceCounts
	if len(result.Memories) > 0 {
		result.Metadata.AverageScore = total / float64(len(result.Memories))
	}
	result.Metadata.SearchTime = time.Since(start)

	logger.Info("memory query handled",
		"found", result.Metadata.MemoriesFound,
		"average_score", result.Metadata.AverageScore,
		"elapsed", result.Metadata.SearchTime)
	return result
}
