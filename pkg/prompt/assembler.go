package prompt

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/text"
)

const (
	contextHeader = "[RELEVANT MEMORIES]\n" +
		"The following was remembered from earlier conversations with this user. " +
		"Use it only when it helps, and do not add details that are not listed.\n"
	contextFooter = "[END OF MEMORIES]"

	noMemoryBlock = "[NO RELEVANT MEMORY FOUND]\n" +
		"Nothing stored matches this message. If the user refers to the past, " +
		"say honestly that you do not remember instead of guessing."
)

// Assembler turns retrieved chunks into a token-budgeted prompt block
type Assembler struct {
	now func() time.Time
}

type Option func(*Assembler)

// WithClock replaces time.Now for recency labels
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

func New(opts ...Option) *Assembler {
	a := &Assembler{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func sourceTag(c *model.MemoryChunk) string {
	switch c.Source {
	case model.SourceEpisodic:
		if imp, ok := c.Importance(); ok {
			return fmt.Sprintf("[IMPORTANT EVENT] (importance %d%%)", int(math.Round(imp*100)))
		}
		return "[IMPORTANT EVENT]"
	case model.SourceKnowledge:
		return "[KNOWN FACT]"
	default:
		return "[PAST CONVERSATION]"
	}
}

func (a *Assembler) line(c *model.MemoryChunk, now time.Time) string {
	content := strings.Join(strings.Fields(c.Content), " ")
	return fmt.Sprintf("- %s (%s) %s", sourceTag(c), RecencyLabel(c.Timestamp, now), content)
}

func omissionNotice(n int) string {
	if n == 1 {
		return "(1 additional memory omitted)"
	}
	return fmt.Sprintf("(%d additional memories omitted)", n)
}

func render(header string, lines []string, omitted int) string {
	var b strings.Builder
	b.WriteString(header)
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if omitted > 0 {
		b.WriteString(omissionNotice(omitted))
		b.WriteByte('\n')
	}
	b.WriteString(contextFooter)
	return b.String()
}

// fit cuts s so that its token estimate stays within budget
func fit(s string, budget int) string {
	if text.EstimateTokens(s) <= budget {
		return s
	}
	return text.Truncate(s, budget*4)
}

func (a *Assembler) assemble(header, empty string, chunks []*model.MemoryChunk, budget int) string {
	if budget <= 0 {
		return ""
	}
	if len(chunks) == 0 {
		return fit(empty, budget)
	}

	now := a.now()
	lines := make([]string, 0, len(chunks))
	for _, c := range chunks {
		lines = append(lines, a.line(c, now))
	}

	// chunks go in order while the complete output stays within budget
	included := 0
	for i := range lines {
		candidate := render(header, lines[:i+1], len(lines)-i-1)
		if text.EstimateTokens(candidate) > budget {
			break
		}
		included = i + 1
	}

	return fit(render(header, lines[:included], len(lines)-included), budget)
}

// Assemble renders chunks, best first, within budget tokens (one token per
// four characters). Chunks that do not fit are counted in an omission
// notice. With no chunks it returns a block telling the generator that
// nothing is remembered.
func (a *Assembler) Assemble(chunks []*model.MemoryChunk, budget int) string {
	return a.assemble(contextHeader, noMemoryBlock, chunks, budget)
}

// AssembleForQuery is Assemble for a message that asks about the past. The
// header names what the user is trying to recall.
func (a *Assembler) AssembleForQuery(d *model.QueryDetection, chunks []*model.MemoryChunk, budget int) string {
	if d == nil || !d.IsQuery {
		return a.Assemble(chunks, budget)
	}

	topic := d.Topic
	if topic == "" {
		topic = strings.Join(d.Keywords, " ")
	}

	header := fmt.Sprintf("[MEMORY QUERY]\nThe user is asking you to recall something (%s", d.QueryType)
	if topic != "" {
		header += fmt.Sprintf(", about %q", topic)
	}
	header += "). Answer from these memories:\n"

	empty := noMemoryBlock
	if topic != "" {
		empty = fmt.Sprintf("[NO RELEVANT MEMORY FOUND]\n"+
			"The user asked you to recall %q but nothing stored matches. "+
			"Say honestly that you do not remember it instead of making something up.", topic)
	}
	return a.assemble(header, empty, chunks, budget)
}
