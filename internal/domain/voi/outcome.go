package voi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Information gain credited to an answer, depending on whether it
// contradicted the prior's prediction.
const (
	UsefulInfoGain    = 0.8
	NotUsefulInfoGain = 0.1
)

// OutcomeResult is the reconciliation of a real answer against a prior.
type OutcomeResult struct {
	Useful          bool    `json:"useful"`
	ActualInfoGain  float64 `json:"actual_information_gain"`
	PredictedAnswer string  `json:"predicted_answer,omitempty"`
}

// ReconcileAnswer compares the actual answer to what the prior predicted.
// A mismatch counts as useful. Priors that predict nothing (unknown, empty
// categorical) count every answer as useful.
func ReconcileAnswer(prior PriorBelief, answer any) OutcomeResult {
	predicted, mismatch := predictAndCompare(prior, answer)
	if mismatch {
		return OutcomeResult{Useful: true, ActualInfoGain: UsefulInfoGain, PredictedAnswer: predicted}
	}
	return OutcomeResult{Useful: false, ActualInfoGain: NotUsefulInfoGain, PredictedAnswer: predicted}
}

func predictAndCompare(prior PriorBelief, answer any) (string, bool) {
	switch prior.Type {
	case BeliefCategorical:
		mode, ok := Mode(prior.Distribution)
		if !ok {
			return "", true
		}
		return mode, !strings.EqualFold(strings.TrimSpace(answerString(answer)), mode)

	case BeliefBoolean:
		predicted := prior.Probability >= 0.5
		actual, ok := answerBool(answer)
		if !ok {
			return strconv.FormatBool(predicted), true
		}
		return strconv.FormatBool(predicted), actual != predicted

	case BeliefContinuous:
		predicted := strconv.FormatFloat(prior.Mean, 'g', -1, 64)
		actual, ok := answerFloat(answer)
		if !ok {
			return predicted, true
		}
		// Within one standard deviation of the mean counts as predicted.
		tolerance := math.Sqrt(math.Max(prior.Variance, 0))
		return predicted, math.Abs(actual-prior.Mean) > tolerance

	default:
		return "", true
	}
}

// ApplyOutcome folds a reconciled answer into the aspect's running counters,
// smoothing the average information gain with the learning rate.
func (a *Aspect) ApplyOutcome(r OutcomeResult, learningRate float64) {
	a.AskCount++
	if r.Useful {
		a.UsefulAnswerCount++
	}
	lr := ClampLearningRate(learningRate)
	a.AvgInformationGain = a.AvgInformationGain*(1-lr) + r.ActualInfoGain*lr
}

// ClampLearningRate bounds a smoothing rate to [0, 1].
func ClampLearningRate(lr float64) float64 { return clamp01(lr) }

func answerString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		// choice answers may arrive as {"id": "...", "label": "..."}
		if id, ok := t["id"].(string); ok {
			return id
		}
		if val, ok := t["value"]; ok {
			return answerString(val)
		}
	}
	return fmt.Sprint(v)
}

func answerBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "yes", "y", "true", "1", "approve", "approved":
			return true, true
		case "no", "n", "false", "0", "reject", "rejected":
			return false, true
		}
	case float64:
		return t != 0, true
	}
	return false, false
}

func answerFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
