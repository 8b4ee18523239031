package voi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultPriorConfidence = 0.1
	neutralHistoricalRate  = 0.5
)

// TwoQuestionRuleApplies reports whether the workflow has used up its question budget.
func TwoQuestionRuleApplies(questionsAsked int, cfg Config) bool {
	return questionsAsked >= cfg.MaxQuestionsPerWorkflow
}

// CapDecision is the short-circuit record produced by the two-question rule.
func CapDecision(req Request, questionsAsked int, cfg Config, now time.Time) Decision {
	return Decision{
		TenantID:   req.TenantID,
		WorkflowID: req.WorkflowID,
		VOIScore:   -1,
		Threshold:  cfg.Threshold,
		Outcome:    OutcomeSkipWithDefault,
		Reasoning: fmt.Sprintf("two-question rule: %d questions already asked in workflow (max %d); proceeding with defaults",
			questionsAsked, cfg.MaxQuestionsPerWorkflow),
		CreatedAt: now,
	}
}

// DefaultPrior is the belief assigned to a newly seen aspect: uniform over the
// supplied options, or unknown when there are none.
func DefaultPrior(options []string) PriorBelief {
	if len(options) == 0 {
		return PriorBelief{Type: BeliefUnknown, Confidence: defaultPriorConfidence, Source: "default"}
	}
	dist := make(map[string]float64, len(options))
	p := 1.0 / float64(len(options))
	for _, o := range options {
		dist[o] = p
	}
	return PriorBelief{
		Type:         BeliefCategorical,
		Distribution: dist,
		Confidence:   defaultPriorConfidence,
		Source:       "uniform_over_options",
	}
}

// NewAspect builds the lazily created aspect for a not-yet-seen name.
func NewAspect(req Request, cfg Config) Aspect {
	return Aspect{
		TenantID:             req.TenantID,
		WorkflowType:         req.WorkflowType,
		Name:                 req.AspectName,
		Category:             req.Category,
		Prior:                DefaultPrior(req.Options),
		DecisionImpactWeight: cfg.DefaultImpactWeight,
		ErrorCostWeight:      cfg.DefaultErrorCostWeight,
	}
}

// HistoricalFactor is the fraction of past answers that proved useful,
// or a neutral 0.5 when the aspect has never been asked.
func (a *Aspect) HistoricalFactor() float64 {
	if a.AskCount <= 0 {
		return neutralHistoricalRate
	}
	return float64(a.UsefulAnswerCount) / float64(a.AskCount)
}

// Evaluate computes a VOI decision for an aspect. It does not apply the
// two-question rule; callers check TwoQuestionRuleApplies first.
func Evaluate(a *Aspect, req Request, cfg Config, now time.Time) Decision {
	prior := Entropy(a.Prior)
	posterior := ExpectedPosteriorEntropy(prior, a.Prior.Confidence)
	gain := prior - posterior
	if gain < 0 {
		gain = 0
	}

	askCost := cfg.AskCostBase * cfg.urgencyMultiplier(req.Urgency)
	improvement := (gain*a.DecisionImpactWeight + gain*a.ErrorCostWeight) / 2
	historical := a.HistoricalFactor()
	score := improvement*historical - askCost

	d := Decision{
		TenantID:                    req.TenantID,
		AspectID:                    a.ID,
		WorkflowID:                  req.WorkflowID,
		PriorEntropy:                prior,
		ExpectedPosteriorEntropy:    posterior,
		ExpectedInformationGain:     gain,
		AskCost:                     askCost,
		ExpectedDecisionImprovement: improvement,
		VOIScore:                    score,
		Threshold:                   cfg.Threshold,
		CreatedAt:                   now,
	}

	inputs := fmt.Sprintf("prior entropy %.3f bits, expected gain %.3f, improvement %.3f x historical %.2f, ask cost %.3f (%s)",
		prior, gain, improvement, historical, askCost, urgencyLabel(req.Urgency))

	switch {
	case score >= cfg.Threshold:
		d.Outcome = OutcomeAsk
		d.Reasoning = fmt.Sprintf("ask: VOI %.3f >= threshold %.3f; %s", score, cfg.Threshold, inputs)
	case a.Prior.Confidence >= cfg.InferConfidence:
		d.Outcome = OutcomeInfer
		d.Reasoning = fmt.Sprintf("infer: VOI %.3f < threshold %.3f but prior confidence %.2f >= %.2f; %s",
			score, cfg.Threshold, a.Prior.Confidence, cfg.InferConfidence, inputs)
	default:
		d.Outcome = OutcomeSkipWithDefault
		d.Reasoning = fmt.Sprintf("skip_with_default: VOI %.3f < threshold %.3f and prior confidence %.2f < %.2f; %s",
			score, cfg.Threshold, a.Prior.Confidence, cfg.InferConfidence, inputs)
	}
	return d
}

func urgencyLabel(u Urgency) string {
	if u == "" {
		return string(UrgencyNormal)
	}
	return strings.ToLower(string(u))
}
