package embedding

import (
	"strings"
	"unicode"
)

func isSentenceTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '\n':
		return true
	}
	return false
}

// splitSentences splits text after runs of sentence terminators that are
// followed by whitespace or the end of text
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isSentenceTerminator(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && (isSentenceTerminator(runes[j+1]) || runes[j+1] == '"' || runes[j+1] == '\'' || runes[j+1] == ')') {
			j++
		}
		if j+1 < len(runes) && !unicode.IsSpace(runes[j+1]) {
			i = j
			continue
		}
		if s := strings.TrimSpace(string(runes[start : j+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = j + 1
		i = j
	}

	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// ChunkForEmbedding packs whole sentences into chunks of at most maxLen
// runes. A single sentence longer than maxLen is hard-cut into maxLen pieces.
func ChunkForEmbedding(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 {
		return []string{text}
	}

	var chunks []string
	var current []rune

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, string(current))
			current = nil
		}
	}

	for _, sentence := range splitSentences(text) {
		s := []rune(sentence)

		if len(s) > maxLen {
			flush()
			for len(s) > maxLen {
				chunks = append(chunks, strings.TrimSpace(string(s[:maxLen])))
				s = []rune(strings.TrimLeftFunc(string(s[maxLen:]), unicode.IsSpace))
			}
			if len(s) > 0 {
				current = s
			}
			continue
		}

		switch {
		case len(current) == 0:
			current = s
		case len(current)+1+len(s) <= maxLen:
			current = append(append(current, ' '), s...)
		default:
			flush()
			current = s
		}
	}
	flush()

	return chunks
}
