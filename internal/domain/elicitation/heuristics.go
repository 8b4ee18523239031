package elicitation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Strob0t/elicitor/internal/domain/voi"
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an the and or but if then else of to in on at by for with about
		from into over under is are was were be been being do does did done have has had having
		should would could can will shall may might must what which who whom whose when where why how
		this that these those it its we you your our they them their i me my he she his her
		please any some all there here than as not no yes use using want prefer need`) {
		stopWords[w] = struct{}{}
	}
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// ExtractAspectName derives a stable aspect name from free question text:
// stop-words and words of two characters or fewer are dropped and the first
// three remaining words are joined with underscores.
func ExtractAspectName(question string) string {
	words := nonWord.Split(strings.ToLower(question), -1)
	var picked []string
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		picked = append(picked, w)
		if len(picked) == 3 {
			break
		}
	}
	if len(picked) == 0 {
		return "general"
	}
	return strings.Join(picked, "_")
}

var categoryCues = []struct {
	re       *regexp.Regexp
	category string
}{
	{regexp.MustCompile(`(?i)\b(prefer|prefers|preferred|preference|want|wants)\b`), "preference"},
	{regexp.MustCompile(`(?i)\b(must|require|requires|required|requirement)\b`), "requirement"},
	{regexp.MustCompile(`(?i)\b(limit|limits|budget|budgets)\b`), "constraint"},
}

// InferCategory classifies a question by keyword cues.
func InferCategory(question string) string {
	for _, c := range categoryCues {
		if c.re.MatchString(question) {
			return c.category
		}
	}
	return "context"
}

// Fingerprint identifies a question within its context for deduplication.
// Whitespace and case in the question are ignored; context keys are
// serialized in sorted order.
func Fingerprint(question string, ctx map[string]any) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(strings.Fields(strings.ToLower(question)), " ")))
	h.Write([]byte{0})
	if len(ctx) > 0 {
		b, err := json.Marshal(ctx)
		if err != nil {
			b = []byte(fmt.Sprint(ctx))
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ZeroValue returns the type-appropriate empty answer.
func ZeroValue(t QuestionType) any {
	switch t {
	case TypeYesNo, TypeConfirmation:
		return false
	case TypeNumeric:
		return 0
	case TypeMultipleChoice:
		return []string{}
	case TypeStructured:
		return map[string]any{}
	default:
		return ""
	}
}

// ComputeAssumption picks the value to proceed with when the human is not
// asked. Preference order: explicit default value, default option, the
// prior's most likely answer when the decision was to infer, then the
// type's zero value.
func ComputeAssumption(req *AskUserRequest, d *voi.Decision, prior *voi.PriorBelief) *Assumption {
	reasoning := ""
	if d != nil {
		reasoning = d.Reasoning
	}

	if req.DefaultValue != nil {
		return &Assumption{Value: req.DefaultValue, Source: SourceDefaultValue, Confidence: priorConfidence(prior), Reasoning: reasoning}
	}
	for _, o := range req.Options {
		if o.IsDefault {
			return &Assumption{Value: o.ID, Source: SourceDefaultOption, Confidence: priorConfidence(prior), Reasoning: reasoning}
		}
	}
	if d != nil && d.Outcome == voi.OutcomeInfer && prior != nil {
		if v, ok := predicted(prior); ok {
			return &Assumption{Value: v, Source: SourceInferred, Confidence: prior.Confidence, Reasoning: reasoning}
		}
	}
	return &Assumption{Value: ZeroValue(req.QuestionType), Source: SourceTypeDefault, Reasoning: reasoning}
}

func priorConfidence(p *voi.PriorBelief) float64 {
	if p == nil {
		return 0
	}
	return p.Confidence
}

func predicted(p *voi.PriorBelief) (any, bool) {
	switch p.Type {
	case voi.BeliefCategorical:
		if m, ok := voi.Mode(p.Distribution); ok {
			return m, true
		}
	case voi.BeliefBoolean:
		return p.Probability >= 0.5, true
	case voi.BeliefContinuous:
		return p.Mean, true
	}
	return nil, false
}
