// Package probe defines the port for hidden-state linear probes that score
// how likely a self-hosted model's answer is to be correct.
package probe

import "context"

// Request is one response to be scored.
type Request struct {
	ModelID  string `json:"model_id"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Prober returns a correctness score in [0,1].
type Prober interface {
	Score(ctx context.Context, r Request) (float64, error)
}
