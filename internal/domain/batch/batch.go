// Package batch defines question batches and the pure matching rules used
// to group pending questions for a single presentation to a human.
package batch

import (
	"fmt"
	"time"
)

// Type identifies the strategy that created a batch.
type Type string

const (
	TypeTimeWindow  Type = "time_window"
	TypeCorrelation Type = "correlation"
	TypeSemantic    Type = "semantic"
)

// Status is a batch lifecycle state.
type Status string

const (
	StatusCollecting Status = "collecting"
	StatusReady      Status = "ready"
	StatusPresented  Status = "presented"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
)

var validTransitions = map[Status][]Status{
	StatusCollecting: {StatusReady, StatusExpired},
	StatusReady:      {StatusPresented, StatusExpired},
	StatusPresented:  {StatusCompleted},
}

// CanTransition reports whether a batch may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Open reports whether the batch still accepts new questions or answers.
func (s Status) Open() bool {
	return s == StatusCollecting || s == StatusReady || s == StatusPresented
}

// Batch is a collecting container for related questions.
type Batch struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	UserID         string     `json:"user_id,omitempty"`
	Type           Type       `json:"batch_type"`
	CorrelationKey string     `json:"correlation_key,omitempty"`
	Status         Status     `json:"status"`
	Embedding      []float32  `json:"-"`
	SampleText     string     `json:"sample_text,omitempty"`
	QuestionCount  int        `json:"question_count"`
	AnsweredCount  int        `json:"answered_count"`
	SkippedCount   int        `json:"skipped_count"`
	HasBlocking    bool       `json:"has_blocking"`
	WindowStart    time.Time  `json:"window_start"`
	WindowEnd      time.Time  `json:"window_end"`
	PresentedAt    *time.Time `json:"presented_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Resolved reports whether every question has been answered or skipped.
func (b *Batch) Resolved() bool {
	return b.QuestionCount > 0 && b.AnsweredCount+b.SkippedCount >= b.QuestionCount
}

// Full reports whether the batch has reached maxSize questions.
func (b *Batch) Full(maxSize int) bool {
	return maxSize > 0 && b.QuestionCount >= maxSize
}

// Key is the identity tuple under which at most one collecting batch may exist.
type Key struct {
	TenantID       string
	UserID         string
	Type           Type
	CorrelationKey string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.TenantID, k.UserID, k.Type, k.CorrelationKey)
}

// Assignment is the result of routing a question to a batch.
type Assignment struct {
	BatchID string `json:"batch_id"`
	IsNew   bool   `json:"is_new"`
	Type    Type   `json:"batch_type"`
}

// Config holds batching knobs.
type Config struct {
	WindowSeconds               int           `json:"window_seconds" yaml:"window_seconds"`
	MaxBatchSize                int           `json:"max_batch_size" yaml:"max_batch_size"`
	CorrelationKeys             []string      `json:"correlation_keys" yaml:"correlation_keys"`
	SemanticSimilarityThreshold float64       `json:"semantic_similarity_threshold" yaml:"semantic_similarity_threshold"`
	KeywordOverlapThreshold     float64       `json:"keyword_overlap_threshold" yaml:"keyword_overlap_threshold"`
	SeedSemanticBatches         bool          `json:"seed_semantic_batches" yaml:"seed_semantic_batches"`
	ExpireAfter                 time.Duration `json:"expire_after" yaml:"expire_after"`
}

// DefaultConfig returns the documented batching defaults.
func DefaultConfig() Config {
	return Config{
		WindowSeconds:               30,
		MaxBatchSize:                10,
		CorrelationKeys:             []string{"workflow_id", "entity_id", "task_type"},
		SemanticSimilarityThreshold: 0.7,
		KeywordOverlapThreshold:     0.5,
		ExpireAfter:                 time.Hour,
	}
}

// Window returns the configured collection window.
func (c Config) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.WindowSeconds) * time.Second
}
