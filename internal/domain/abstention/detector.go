package abstention

import (
	"fmt"
	"strings"
)

// Check runs the enabled local checks against in and folds their verdicts.
// probe is the linear-probe score when one was obtained, else nil; the
// network call that produces it is the caller's concern.
//
// The reason reported is the refusal family when a refusal pattern fired,
// otherwise the first check that tripped in evaluation order.
func Check(cfg Config, in Input, probe *float64) Result {
	res := Result{OriginalResponse: in.Response, RecommendedAction: ActionProceed}
	trip := func(r Reason, explanation string) {
		if !res.ShouldAbstain {
			res.Reason = r
		}
		res.ShouldAbstain = true
		res.Explanations = append(res.Explanations, explanation)
	}

	text := in.Response
	var parsed ConfidenceParse
	if cfg.ConfidencePrompting {
		parsed = ParseConfidenceResponse(in.Response)
		if parsed.Found {
			res.OriginalResponse = parsed.OriginalResponse
			text = parsed.OriginalResponse
		}
	}

	if cfg.RefusalDetection {
		if m := DetectRefusalPatterns(text); m.IsRefusal {
			trip(m.Reason, fmt.Sprintf("refusal pattern matched (%s)", m.Reason))
		}
	}

	if parsed.Found {
		c := parsed.Confidence / 100
		res.Scores.Confidence = &c
		if c < cfg.ConfidenceThreshold {
			msg := fmt.Sprintf("self-reported confidence %.2f below threshold %.2f", c, cfg.ConfidenceThreshold)
			if parsed.Reasoning != "" {
				msg += ": " + parsed.Reasoning
			}
			trip(ReasonLowConfidence, msg)
		}
	}

	n := max(cfg.SelfConsistencySamples, 2)
	if cfg.SelfConsistency && len(in.Samples) >= n {
		agreement := SelfConsistency(in.Samples)
		res.Scores.SelfConsistencyAgreement = &agreement
		if agreement < cfg.SelfConsistencyThreshold {
			trip(ReasonSelfConsistencyFail, fmt.Sprintf(
				"self-consistency agreement %.2f below threshold %.2f across %d samples",
				agreement, cfg.SelfConsistencyThreshold, len(in.Samples)))
		}
	}

	if cfg.SemanticEntropy && len(in.Samples) >= 2 {
		se := SemanticEntropy(in.Samples)
		res.Scores.SemanticEntropy = &se
		if se > cfg.SemanticEntropyThreshold {
			trip(ReasonHighSemanticEntropy, fmt.Sprintf(
				"semantic entropy %.2f above threshold %.2f", se, cfg.SemanticEntropyThreshold))
		}
	}

	if probe != nil {
		v := *probe
		res.Scores.ProbeScore = &v
		if v < cfg.ProbeThreshold {
			trip(ReasonLowConfidence, fmt.Sprintf("linear probe score %.2f below threshold %.2f", v, cfg.ProbeThreshold))
		}
	}

	if res.ShouldAbstain {
		res.RecommendedAction = cfg.OnAbstentionAction
		if res.RecommendedAction == "" {
			res.RecommendedAction = ActionEscalate
		}
	}
	return res
}

// WithConfidencePrompt appends the confidence trailer instruction to prompt
// unless it already asks for one.
func WithConfidencePrompt(prompt string) string {
	if strings.Contains(strings.ToUpper(prompt), "CONFIDENCE:") {
		return prompt
	}
	return prompt + ConfidencePromptSuffix
}
