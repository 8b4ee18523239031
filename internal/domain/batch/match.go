package batch

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// CorrelationKey joins the configured context fields that are present as
// "key:value|key:value", in configuration order. An empty result means no
// correlation applies.
func CorrelationKey(ctx map[string]any, keys []string) string {
	var parts []string
	for _, k := range keys {
		v, ok := ctx[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			continue
		}
		parts = append(parts, k+":"+s)
	}
	return strings.Join(parts, "|")
}

// CosineSimilarity returns the cosine of the angle between a and b. Vectors
// of different length or zero magnitude are dissimilar.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// minKeywordLen is the length a word must exceed to count as a keyword.
const minKeywordLen = 4

// Keywords returns the distinct lowercase words longer than four characters.
func Keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range wordSplit.Split(strings.ToLower(text), -1) {
		if len([]rune(w)) > minKeywordLen {
			out[w] = struct{}{}
		}
	}
	return out
}

// KeywordOverlap is the share of the question's keywords found in the
// candidate text.
func KeywordOverlap(question, candidate string) float64 {
	q := Keywords(question)
	if len(q) == 0 {
		return 0
	}
	c := Keywords(candidate)
	var shared int
	for w := range q {
		if _, ok := c[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(q))
}

// BestSemanticMatch picks the open semantic batch most similar to the
// question. With an embedding it uses cosine similarity against each batch's
// stored embedding; otherwise it falls back to keyword overlap with the
// batch's sample text. ok is false when nothing clears the threshold.
func BestSemanticMatch(candidates []Batch, question string, embedding []float32, cfg Config) (best Batch, score float64, ok bool) {
	for _, c := range candidates {
		if c.Type != TypeSemantic || c.Status != StatusCollecting {
			continue
		}
		var s, threshold float64
		if len(embedding) > 0 && len(c.Embedding) > 0 {
			s, threshold = CosineSimilarity(embedding, c.Embedding), cfg.SemanticSimilarityThreshold
		} else {
			s, threshold = KeywordOverlap(question, c.SampleText), cfg.KeywordOverlapThreshold
		}
		if s >= threshold && s > score {
			best, score, ok = c, s, true
		}
	}
	return best, score, ok
}

// WindowOpen reports whether a time-window batch still accepts questions at now.
func WindowOpen(b Batch, now time.Time) bool {
	return b.Status == StatusCollecting && now.Before(b.WindowEnd)
}

// Stale reports whether a collecting or ready batch is old enough to expire.
func Stale(b Batch, now time.Time, after time.Duration) bool {
	if b.Status != StatusCollecting && b.Status != StatusReady {
		return false
	}
	return now.Sub(b.CreatedAt) > after
}

// SortBatches orders batches for presentation: those holding a blocking
// question first, then by oldest window start.
func SortBatches(bs []Batch) {
	sort.SliceStable(bs, func(i, j int) bool {
		if bs[i].HasBlocking != bs[j].HasBlocking {
			return bs[i].HasBlocking
		}
		return bs[i].WindowStart.Before(bs[j].WindowStart)
	})
}

// Question is the view of a pending question used for in-batch ordering.
type Question struct {
	RequestID string    `json:"request_id"`
	Question  string    `json:"question"`
	Urgency   string    `json:"urgency"`
	CreatedAt time.Time `json:"created_at"`
}

var urgencyRank = map[string]int{
	"blocking": 0,
	"high":     1,
	"normal":   2,
	"low":      3,
	"optional": 4,
}

func rank(u string) int {
	if r, ok := urgencyRank[u]; ok {
		return r
	}
	return urgencyRank["normal"]
}

// SortQuestions orders questions by urgency, then creation time.
func SortQuestions(qs []Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		ri, rj := rank(qs[i].Urgency), rank(qs[j].Urgency)
		if ri != rj {
			return ri < rj
		}
		return qs[i].CreatedAt.Before(qs[j].CreatedAt)
	})
}
