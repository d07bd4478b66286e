package text

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics ("¿Recuerdas?" -> "¿recuerdas?",
// "Mañana" -> "manana"). The returned offsets map every byte of the folded
// string to the byte offset of the source rune it came from; offsets has one
// extra trailing entry equal to len(s) so that span ends can be mapped too.
func Fold(s string) (string, []int) {
	var b strings.Builder
	b.Grow(len(s))
	offsets := make([]int, 0, len(s)+1)

	for i, r := range s {
		for _, fr := range foldRune(r) {
			n := utf8.RuneLen(fr)
			if n < 0 {
				continue
			}
			b.WriteRune(fr)
			for j := 0; j < n; j++ {
				offsets = append(offsets, i)
			}
		}
	}
	offsets = append(offsets, len(s))
	return b.String(), offsets
}

// FoldString is Fold without the offset table
func FoldString(s string) string {
	folded, _ := Fold(s)
	return folded
}

func foldRune(r rune) []rune {
	r = unicode.ToLower(r)
	if r < utf8.RuneSelf {
		return []rune{r}
	}
	var out []rune
	for _, d := range norm.NFD.String(string(r)) {
		if unicode.Is(unicode.Mn, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Words splits s into lowercase word tokens made of letters and digits.
// Accents are kept.
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokens returns folded, stopword-free words with at least minLen runes
func Tokens(s string, minLen int) []string {
	var out []string
	for _, w := range Words(s) {
		if utf8.RuneCountInString(w) < minLen {
			continue
		}
		f := FoldString(w)
		if IsStopword(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TokenSet returns the distinct folded tokens of s
func TokenSet(s string, minLen int) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokens(s, minLen) {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|; 0 when both sets are empty
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// EstimateTokens approximates the token count of s as one token per four
// characters, rounded up.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}
