// Package voi implements the value-of-information model that decides whether
// a clarifying question is worth a human's attention.
package voi

import "time"

// BeliefType tags the shape of a PriorBelief.
type BeliefType string

const (
	BeliefCategorical BeliefType = "categorical"
	BeliefContinuous  BeliefType = "continuous"
	BeliefBoolean     BeliefType = "boolean"
	BeliefUnknown     BeliefType = "unknown"
)

// Outcome is the verdict of a VOI evaluation.
type Outcome string

const (
	OutcomeAsk             Outcome = "ask"
	OutcomeSkipWithDefault Outcome = "skip_with_default"
	OutcomeInfer           Outcome = "infer"
)

// Urgency of a question. Cheaper urgencies make asking worth it more readily.
type Urgency string

const (
	UrgencyBlocking Urgency = "blocking"
	UrgencyHigh     Urgency = "high"
	UrgencyNormal   Urgency = "normal"
	UrgencyLow      Urgency = "low"
	UrgencyOptional Urgency = "optional"
)

// PriorBelief is what the system currently believes about an aspect's answer.
// Only the fields matching Type are meaningful.
type PriorBelief struct {
	Type BeliefType `json:"type"`

	// categorical; need not be normalized
	Distribution map[string]float64 `json:"distribution,omitempty"`

	// continuous
	Mean     float64 `json:"mean,omitempty"`
	Variance float64 `json:"variance,omitempty"`

	// boolean: probability of true
	Probability float64 `json:"probability,omitempty"`

	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// Aspect is a named facet of ambiguity within a workflow type.
// Aspects are append-only learning state: never deleted.
type Aspect struct {
	ID                   string      `json:"id"`
	TenantID             string      `json:"tenant_id"`
	WorkflowType         string      `json:"workflow_type"`
	Name                 string      `json:"name"`
	Category             string      `json:"category,omitempty"`
	Prior                PriorBelief `json:"prior_belief"`
	DecisionImpactWeight float64     `json:"decision_impact_weight"`
	ErrorCostWeight      float64     `json:"error_cost_weight"`
	AskCount             int         `json:"ask_count"`
	UsefulAnswerCount    int         `json:"useful_answer_count"`
	AvgInformationGain   float64     `json:"avg_information_gain"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// Request carries everything the engine needs to evaluate one question.
type Request struct {
	TenantID     string   `json:"tenant_id"`
	WorkflowID   string   `json:"workflow_id,omitempty"`
	WorkflowType string   `json:"workflow_type"`
	AspectName   string   `json:"aspect_name"`
	Category     string   `json:"category,omitempty"`
	Question     string   `json:"question,omitempty"`
	Options      []string `json:"options,omitempty"`
	Urgency      Urgency  `json:"urgency"`
}

// Decision is an immutable, freshly computed VOI record.
type Decision struct {
	ID                          string    `json:"id,omitempty"`
	TenantID                    string    `json:"tenant_id"`
	AspectID                    string    `json:"aspect_id,omitempty"`
	RequestID                   string    `json:"request_id,omitempty"`
	WorkflowID                  string    `json:"workflow_id,omitempty"`
	PriorEntropy                float64   `json:"prior_entropy"`
	ExpectedPosteriorEntropy    float64   `json:"expected_posterior_entropy"`
	ExpectedInformationGain     float64   `json:"expected_information_gain"`
	AskCost                     float64   `json:"ask_cost"`
	ExpectedDecisionImprovement float64   `json:"expected_decision_improvement"`
	VOIScore                    float64   `json:"voi_score"`
	Threshold                   float64   `json:"threshold"`
	Outcome                     Outcome   `json:"decision"`
	Reasoning                   string    `json:"reasoning"`
	CreatedAt                   time.Time `json:"created_at"`
}

// Config holds the engine's tunables.
type Config struct {
	MaxQuestionsPerWorkflow int                 `json:"max_questions_per_workflow" yaml:"max_questions_per_workflow"`
	Threshold               float64             `json:"threshold" yaml:"threshold"`
	AskCostBase             float64             `json:"ask_cost_base" yaml:"ask_cost_base"`
	UrgencyMultipliers      map[Urgency]float64 `json:"urgency_multipliers" yaml:"urgency_multipliers"`
	InferConfidence         float64             `json:"infer_confidence" yaml:"infer_confidence"`
	LearningRate            float64             `json:"learning_rate" yaml:"learning_rate"`
	DefaultImpactWeight     float64             `json:"default_impact_weight" yaml:"default_impact_weight"`
	DefaultErrorCostWeight  float64             `json:"default_error_cost_weight" yaml:"default_error_cost_weight"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxQuestionsPerWorkflow: 2,
		Threshold:               0.1,
		AskCostBase:             0.1,
		UrgencyMultipliers: map[Urgency]float64{
			UrgencyBlocking: 0.2,
			UrgencyHigh:     0.5,
			UrgencyNormal:   1.0,
			UrgencyLow:      1.5,
			UrgencyOptional: 2.0,
		},
		InferConfidence:        0.7,
		LearningRate:           0.1,
		DefaultImpactWeight:    0.7,
		DefaultErrorCostWeight: 0.7,
	}
}

// urgencyMultiplier falls back to the normal multiplier (or 1) for unknown urgencies.
func (c Config) urgencyMultiplier(u Urgency) float64 {
	if m, ok := c.UrgencyMultipliers[u]; ok {
		return m
	}
	if m, ok := c.UrgencyMultipliers[UrgencyNormal]; ok {
		return m
	}
	return 1.0
}
