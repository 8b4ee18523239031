// Package abstention detects when an AI-generated answer should be suppressed
// or escalated because the model is not confident enough in it.
package abstention

import "time"

// Reason explains why a response should be abstained from.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonLowConfidence       Reason = "low_confidence"
	ReasonHighSemanticEntropy Reason = "high_semantic_entropy"
	ReasonSelfConsistencyFail Reason = "self_consistency_fail"
	ReasonMissingInformation  Reason = "missing_information"
	ReasonOutOfScope          Reason = "out_of_scope"
	ReasonFalsePremise        Reason = "false_premise"
	ReasonPHIDetected         Reason = "phi_detected"
)

// Action is what the caller should do with the response.
type Action string

const (
	ActionProceed    Action = "proceed"
	ActionEscalate   Action = "escalate"
	ActionAskUser    Action = "ask_user"
	ActionUseDefault Action = "use_default"
)

// Config is the per-tenant abstention policy.
type Config struct {
	RefusalDetection         bool    `json:"refusal_detection" yaml:"refusal_detection"`
	ConfidencePrompting      bool    `json:"confidence_prompting" yaml:"confidence_prompting"`
	SelfConsistency          bool    `json:"self_consistency" yaml:"self_consistency"`
	SemanticEntropy          bool    `json:"semantic_entropy" yaml:"semantic_entropy"`
	LinearProbe              bool    `json:"linear_probe" yaml:"linear_probe"`
	ConfidenceThreshold      float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	SelfConsistencySamples   int     `json:"self_consistency_samples" yaml:"self_consistency_samples"`
	SelfConsistencyThreshold float64 `json:"self_consistency_threshold" yaml:"self_consistency_threshold"`
	SemanticEntropyThreshold float64 `json:"semantic_entropy_threshold" yaml:"semantic_entropy_threshold"`
	ProbeThreshold           float64 `json:"probe_threshold" yaml:"probe_threshold"`
	OnAbstentionAction       Action  `json:"on_abstention_action" yaml:"on_abstention_action"`
}

// DefaultConfig returns the documented defaults. The linear probe is opt-in.
func DefaultConfig() Config {
	return Config{
		RefusalDetection:         true,
		ConfidencePrompting:      true,
		SelfConsistency:          true,
		SemanticEntropy:          true,
		LinearProbe:              false,
		ConfidenceThreshold:      0.7,
		SelfConsistencySamples:   5,
		SelfConsistencyThreshold: 0.7,
		SemanticEntropyThreshold: 0.8,
		ProbeThreshold:           0.5,
		OnAbstentionAction:       ActionEscalate,
	}
}

// Input is one response to be checked.
type Input struct {
	TenantID   string   `json:"tenant_id"`
	ModelID    string   `json:"model_id,omitempty"`
	SelfHosted bool     `json:"self_hosted,omitempty"`
	Prompt     string   `json:"prompt,omitempty"`
	Response   string   `json:"response"`
	Samples    []string `json:"samples,omitempty"`
}

// Scores holds the numeric sub-scores that were actually computed.
type Scores struct {
	Confidence               *float64 `json:"confidence,omitempty"`
	SelfConsistencyAgreement *float64 `json:"self_consistency_agreement,omitempty"`
	SemanticEntropy          *float64 `json:"semantic_entropy,omitempty"`
	ProbeScore               *float64 `json:"probe_score,omitempty"`
}

// Result is the per-response verdict.
type Result struct {
	ShouldAbstain     bool     `json:"should_abstain"`
	Reason            Reason   `json:"reason,omitempty"`
	Scores            Scores   `json:"scores"`
	RecommendedAction Action   `json:"recommended_action"`
	Explanations      []string `json:"explanations,omitempty"`
	OriginalResponse  string   `json:"original_response"`
}

// Event is the analytics record persisted for every check.
type Event struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	ModelID           string    `json:"model_id,omitempty"`
	PromptHash        string    `json:"prompt_hash,omitempty"`
	ShouldAbstain     bool      `json:"should_abstain"`
	Reason            Reason    `json:"reason,omitempty"`
	Scores            Scores    `json:"scores"`
	RecommendedAction Action    `json:"recommended_action"`
	Explanations      []string  `json:"explanations,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
