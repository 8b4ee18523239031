package messagequeue

// ElicitationPayload is the schema for elicitation.* messages.
type ElicitationPayload struct {
	TenantID    string  `json:"tenant_id"`
	RequestID   string  `json:"request_id,omitempty"`
	WorkflowID  string  `json:"workflow_id,omitempty"`
	AspectName  string  `json:"aspect_name,omitempty"`
	Decision    string  `json:"decision,omitempty"`
	VOIScore    float64 `json:"voi_score"`
	BatchID     string  `json:"batch_id,omitempty"`
	BlockedBy   string  `json:"blocked_by,omitempty"`
	CacheID     string  `json:"cache_id,omitempty"`
	Status      string  `json:"status,omitempty"`
	RespondedBy string  `json:"responded_by,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// BatchPayload is the schema for batch.* messages.
type BatchPayload struct {
	TenantID      string `json:"tenant_id"`
	BatchID       string `json:"batch_id"`
	UserID        string `json:"user_id,omitempty"`
	BatchType     string `json:"batch_type"`
	Status        string `json:"status"`
	QuestionCount int    `json:"question_count"`
	HasBlocking   bool   `json:"has_blocking"`
}

// EscalationPayload is the schema for escalation.* messages.
type EscalationPayload struct {
	TenantID    string   `json:"tenant_id"`
	RequestID   string   `json:"request_id"`
	ChainID     string   `json:"chain_id"`
	Level       int      `json:"level"`
	Assignees   []string `json:"assignees,omitempty"`
	FinalAction string   `json:"final_action,omitempty"`
}

// AbstentionPayload is the schema for abstention.detected messages.
type AbstentionPayload struct {
	TenantID          string   `json:"tenant_id"`
	ModelID           string   `json:"model_id,omitempty"`
	Reason            string   `json:"reason"`
	RecommendedAction string   `json:"recommended_action"`
	Explanations      []string `json:"explanations,omitempty"`
}
