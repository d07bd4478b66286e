package classifier

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/text"
)

const (
	maxKeywords   = 10
	minKeywordLen = 3
	maxTopicLen   = 100

	fallbackMinKeywords = 2
	fallbackMinDensity  = 0.15
)

// Tier is one rule of the classifier. Tiers are evaluated in order and the
// first match decides the verdict. A matching Negative tier makes the
// message a non-query.
type Tier struct {
	Name      string
	QueryType model.QueryType
	Negative  bool

	match      func(m *message) []int
	confidence func(m *message) float64
}

// Match reports whether the tier matches message and the byte offset in
// message where the match starts
func (t *Tier) Match(message string) (int, bool) {
	m := parse(message)
	loc := t.match(m)
	if loc == nil {
		return 0, false
	}
	return m.offsets[loc[0]], true
}

func patternTier(name string, qt model.QueryType, patterns []*regexp.Regexp, conf float64) *Tier {
	return &Tier{
		Name:       name,
		QueryType:  qt,
		match:      func(m *message) []int { return firstMatch(patterns, m.folded) },
		confidence: func(*message) float64 { return conf },
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DefaultTiers returns the rule list in evaluation order
func DefaultTiers() []*Tier {
	return []*Tier{
		{
			Name:     "future",
			Negative: true,
			match: func(m *message) []int {
				// keep byte positions so spans stay valid
				s := daytimeMorning.ReplaceAllStringFunc(m.folded, func(p string) string {
					return strings.Repeat(" ", len(p))
				})
				return firstMatch(futurePatterns, s)
			},
		},
		patternTier("retrieval", model.QueryTypeRetrieval, retrievalPatterns, 0.95),
		patternTier("recall", model.QueryTypeRecall, recallPatterns, 0.9),
		patternTier("verification", model.QueryTypeVerification, verificationPatterns, 0.85),
		patternTier("personal_info", model.QueryTypeRecall, personalInfoPatterns, 0.75),
		{
			Name:      "past_reference",
			QueryType: model.QueryTypeRecall,
			match:     func(m *message) []int { return firstMatch(pastReferencePatterns, m.folded) },
			confidence: func(m *message) float64 {
				return round2(0.6 + 0.2*min(1, m.density()/0.3))
			},
		},
		{
			Name:      "keyword_density",
			QueryType: model.QueryTypeRecall,
			match: func(m *message) []int {
				if m.strongHits == 0 || m.memoryHits < fallbackMinKeywords || m.density() < fallbackMinDensity {
					return nil
				}
				return []int{0, len(m.folded)}
			},
			confidence: func(m *message) float64 {
				return round2(0.4 + 0.2*min(1, (m.density()-fallbackMinDensity)/0.35))
			},
		},
	}
}

type message struct {
	raw        string
	folded     string
	offsets    []int
	words      []string
	memoryHits int
	strongHits int
}

func parse(raw string) *message {
	folded, offsets := text.Fold(raw)
	m := &message{
		raw:     raw,
		folded:  folded,
		offsets: offsets,
		words:   text.Words(raw),
	}
	for _, w := range m.words {
		strong, ok := memoryKeywords[text.FoldString(w)]
		if !ok {
			continue
		}
		m.memoryHits++
		if strong {
			m.strongHits++
		}
	}
	return m
}

func (m *message) density() float64 {
	if len(m.words) == 0 {
		return 0
	}
	return float64(m.memoryHits) / float64(len(m.words))
}

// keywords returns distinct content words, accents kept, at most maxKeywords
func (m *message) keywords() []string {
	keywords := []string{}
	seen := make(map[string]struct{})
	for _, w := range m.words {
		if utf8.RuneCountInString(w) < minKeywordLen {
			continue
		}
		f := text.FoldString(w)
		if text.IsStopword(f) {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// topic keeps the content words from the match start to the end of the
// message, in their original spelling
func (m *message) topic(loc []int, keywords []string) string {
	start := 0
	if loc != nil {
		start = m.offsets[loc[0]]
	}

	words := strings.FieldsFunc(m.raw[start:], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var kept []string
	for _, w := range words {
		if utf8.RuneCountInString(w) < minKeywordLen || text.IsStopword(text.FoldString(w)) {
			continue
		}
		kept = append(kept, w)
	}

	switch {
	case len(kept) > 0:
		return text.Truncate(strings.Join(kept, " "), maxTopicLen)
	case len(keywords) > 0:
		return text.Truncate(strings.Join(keywords, " "), maxTopicLen)
	default:
		return text.Truncate(strings.TrimSpace(m.raw), maxTopicLen)
	}
}

func temporalHint(folded string) model.TemporalHint {
	switch {
	case firstMatch(recentPatterns, folded) != nil:
		return model.TemporalRecent
	case firstMatch(specificPatterns, folded) != nil:
		return model.TemporalSpecific
	case firstMatch(pastPatterns, folded) != nil:
		return model.TemporalPast
	default:
		return model.TemporalNone
	}
}

// Classifier decides whether a message asks about the past. It is pure CPU
// work and safe for concurrent use.
type Classifier struct {
	tiers []*Tier
}

func New() *Classifier {
	return &Classifier{tiers: DefaultTiers()}
}

func (c *Classifier) Tiers() []*Tier {
	return c.tiers
}

func (c *Classifier) find(m *message) (*Tier, []int) {
	for _, t := range c.tiers {
		if loc := t.match(m); loc != nil {
			return t, loc
		}
	}
	return nil, nil
}

// Classify returns the verdict of the first matching tier, or a non-query
// with zero confidence when no tier matches
func (c *Classifier) Classify(message string) *model.QueryDetection {
	m := parse(message)
	if len(m.words) == 0 {
		return model.NotQuery()
	}

	tier, loc := c.find(m)
	if tier == nil || tier.Negative {
		return model.NotQuery()
	}

	keywords := m.keywords()
	return &model.QueryDetection{
		IsQuery:      true,
		Confidence:   tier.confidence(m),
		QueryType:    tier.QueryType,
		Tier:         tier.Name,
		Keywords:     keywords,
		TemporalHint: temporalHint(m.folded),
		Topic:        m.topic(loc, keywords),
	}
}

// ExtractTopic returns a search phrase for message with recall verbs and
// function words removed. It works on non-queries too, using the whole
// message.
func (c *Classifier) ExtractTopic(message string) string {
	m := parse(message)
	tier, loc := c.find(m)
	if tier != nil && tier.Negative {
		loc = nil
	}
	return m.topic(loc, m.keywords())
}

var defaultClassifier = New()

// Classify runs the default classifier
func Classify(message string) *model.QueryDetection {
	return defaultClassifier.Classify(message)
}

// ExtractTopic runs the default classifier's topic extraction
func ExtractTopic(message string) string {
	return defaultClassifier.ExtractTopic(message)
}
