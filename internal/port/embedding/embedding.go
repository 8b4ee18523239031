// Package embedding defines the port for text embedding providers.
package embedding

import "context"

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
