package models

import "context"

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder embeds several texts in one call; result[i] belongs to texts[i]
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer sends a prompt to a language model and returns its raw answer
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Notifier delivers operator-facing messages
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
