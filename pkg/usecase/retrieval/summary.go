package retrieval

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/kioku/pkg/model"
)

var summarySections = []struct {
	source model.MemorySource
	title  string
}{
	{model.SourceEpisodic, "Events"},
	{model.SourceVector, "Conversations"},
	{model.SourceKnowledge, "Facts"},
}

// Summary renders chunks as plain text grouped by source. Chunk order
// within a group is preserved. It returns "" for no chunks.
func Summary(chunks []*model.MemoryChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d relevant memories\n", len(chunks))
	for _, sec := range summarySections {
		var lines []string
		for _, c := range chunks {
			if c.Source == sec.source {
				lines = append(lines, fmt.Sprintf("- %s (score %.2f)", c.Content, c.Score))
			}
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d):\n%s\n", sec.title, len(lines), strings.Join(lines, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}
