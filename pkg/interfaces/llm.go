package interfaces

import "context"

// Embedder maps a text to a fixed-dimension vector. All vectors compared with each other
// must come from the same Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a text response for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
