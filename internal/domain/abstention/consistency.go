package abstention

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	phraseBoundary = regexp.MustCompile(`[.!?;\n]+`)
)

// minPhraseLen is the shortest clause kept when splitting samples into phrases.
const minPhraseLen = 10

// SelfConsistency returns the mean pairwise normalized edit-distance
// similarity across samples. Fewer than two samples carry no signal and
// yield 1.
func SelfConsistency(samples []string) float64 {
	if len(samples) < 2 {
		return 1
	}
	norm := make([]string, len(samples))
	for i, s := range samples {
		norm[i] = normalize(s)
	}

	var sum float64
	var pairs int
	for i := 0; i < len(norm); i++ {
		for j := i + 1; j < len(norm); j++ {
			sum += Similarity(norm[i], norm[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// Similarity is 1 - levenshtein(a,b)/max(len(a),len(b)), measured in runes.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// Levenshtein returns the edit distance between a and b using a two-row table.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// SemanticEntropy is 1 minus the mean pairwise Jaccard similarity of the
// samples' phrase sets. Fewer than two samples yield 0.
func SemanticEntropy(samples []string) float64 {
	if len(samples) < 2 {
		return 0
	}
	sets := make([]map[string]struct{}, len(samples))
	for i, s := range samples {
		sets[i] = phrases(s)
	}

	var sum float64
	var pairs int
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sum += jaccard(sets[i], sets[j])
			pairs++
		}
	}
	return 1 - sum/float64(pairs)
}

func phrases(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range phraseBoundary.Split(s, -1) {
		p = normalize(p)
		if utf8.RuneCountInString(p) > minPhraseLen {
			out[p] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	var inter int
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func normalize(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(s), " "))
}
