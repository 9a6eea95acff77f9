package rag

import "context"

type EmbeddingsClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LLMClient turns a rendered prompt into a completion.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Stream calls onDelta for every text fragment in arrival order and stops
	// at the first error onDelta returns.
	Stream(ctx context.Context, prompt string, onDelta func(string) error) error
}

type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]Document, error)
}
