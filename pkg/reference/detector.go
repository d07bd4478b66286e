package reference

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/text"
)

const (
	// DefaultOverlapThreshold is the minimum token Jaccard between a reply
	// sentence and a chunk for a lexical match
	DefaultOverlapThreshold = 0.2
	// MinConfidence is the floor; only matches above it are returned
	MinConfidence = 0.5

	agreementBoost = 0.2
	lexicalBase    = 0.2
	lexicalMax     = 0.9
	minTokenLen    = 3
)

type span struct {
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// sentences splits s into trimmed sentence spans with byte offsets into s
func sentences(s string) []span {
	var out []span
	start := 0
	emit := func(end int) {
		seg := s[start:end]
		trimmedLeft := strings.TrimLeftFunc(seg, unicode.IsSpace)
		st := start + len(seg) - len(trimmedLeft)
		en := st + len(strings.TrimRightFunc(trimmedLeft, unicode.IsSpace))
		if en > st {
			out = append(out, span{st, en})
		}
	}
	for i, r := range s {
		switch r {
		case '.', '!', '?', '…', '\n':
			end := i + len(string(r))
			emit(end)
			start = end
		}
	}
	if start < len(s) {
		emit(len(s))
	}
	return out
}

func categoryOf(src model.MemorySource) model.ReferenceCategory {
	switch src {
	case model.SourceEpisodic:
		return model.ReferenceEvent
	case model.SourceKnowledge:
		return model.ReferenceFact
	default:
		return model.ReferenceConversation
	}
}

// Detector finds spans of generated text that draw on retrieved memories
type Detector struct {
	threshold float64
}

type Option func(*Detector)

// WithOverlapThreshold changes the lexical Jaccard threshold
func WithOverlapThreshold(v float64) Option {
	return func(d *Detector) {
		d.threshold = v
	}
}

func New(opts ...Option) *Detector {
	d := &Detector{threshold: DefaultOverlapThreshold}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) patternMatches(generated string) []*model.ReferenceMatch {
	folded, offsets := text.Fold(generated)

	var matches []*model.ReferenceMatch
	for _, fam := range families {
		for _, p := range fam.patterns {
			for _, loc := range p.FindAllStringIndex(folded, -1) {
				start, end := offsets[loc[0]], offsets[loc[1]]
				// a match ending inside a multi-byte rune maps to its start
				if loc[1] < len(folded) && offsets[loc[1]] == offsets[loc[1]-1] {
					end = nextRune(generated, end)
				}
				matches = append(matches, &model.ReferenceMatch{
					Category:   fam.category,
					Text:       generated[start:end],
					Start:      start,
					End:        end,
					Confidence: fam.confidence,
					Pattern:    true,
				})
			}
		}
	}
	return matches
}

func nextRune(s string, i int) int {
	for j := range s[i:] {
		if j > 0 {
			return i + j
		}
	}
	return len(s)
}

func (d *Detector) lexicalMatches(generated string, chunks []*model.MemoryChunk) []*model.ReferenceMatch {
	chunkTokens := make([]map[string]struct{}, len(chunks))
	for i, c := range chunks {
		chunkTokens[i] = text.TokenSet(c.Content, minTokenLen)
	}

	var matches []*model.ReferenceMatch
	for _, sp := range sentences(generated) {
		sentence := generated[sp.start:sp.end]
		tokens := text.TokenSet(sentence, minTokenLen)
		if len(tokens) == 0 {
			continue
		}

		bestIdx, best := -1, 0.0
		for i := range chunks {
			if j := text.Jaccard(tokens, chunkTokens[i]); j > best {
				bestIdx, best = i, j
			}
		}
		if bestIdx < 0 || best < d.threshold {
			continue
		}

		matches = append(matches, &model.ReferenceMatch{
			Category:   categoryOf(chunks[bestIdx].Source),
			Text:       sentence,
			Start:      sp.start,
			End:        sp.end,
			Confidence: min(lexicalMax, lexicalBase+best),
			ChunkID:    chunks[bestIdx].ID,
			Overlap:    best,
		})
	}
	return matches
}

// Detect returns the references to memory found in generated, most
// confident first. generated is only read.
func (d *Detector) Detect(generated string, chunks []*model.MemoryChunk) []*model.ReferenceMatch {
	if strings.TrimSpace(generated) == "" {
		return nil
	}

	patterns := d.patternMatches(generated)
	lexical := d.lexicalMatches(generated, chunks)

	// keep one pattern match per span, the most confident
	slices.SortStableFunc(patterns, func(a, b *model.ReferenceMatch) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	var merged []*model.ReferenceMatch
	confirmed := make([]bool, len(lexical))
	for _, p := range patterns {
		ps := span{p.Start, p.End}
		if slices.ContainsFunc(merged, func(m *model.ReferenceMatch) bool {
			return span{m.Start, m.End}.overlaps(ps)
		}) {
			continue
		}

		for i, l := range lexical {
			if !ps.overlaps(span{l.Start, l.End}) {
				continue
			}
			confirmed[i] = true
			p.ChunkID = l.ChunkID
			p.Overlap = l.Overlap
			p.Confidence = min(1, max(p.Confidence, l.Confidence)+agreementBoost)
			break
		}
		merged = append(merged, p)
	}
	for i, l := range lexical {
		if !confirmed[i] {
			merged = append(merged, l)
		}
	}

	var out []*model.ReferenceMatch
	for _, m := range merged {
		if m.Confidence > MinConfidence {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b *model.ReferenceMatch) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.Start, b.Start)
	})
	return out
}
