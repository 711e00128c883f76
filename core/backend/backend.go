package backend

import (
	"context"

	"github.com/mizutome/ragbench/model"
)

// Purpose tells an embedding backend what the text is used for. Some models
// produce different vectors for stored documents and search queries.
type Purpose string

const (
	PurposeDocument Purpose = "document"
	PurposeQuery    Purpose = "query"
)

// Embedder produces fixed dimension embeddings for one model.
// Name identifies the embedding space (e.g. "google"), Model the concrete
// API model behind it (e.g. "text-embedding-004"). Every returned vector
// has exactly Dimension entries.
type Embedder interface {
	Name() string
	Model() string
	Dimension() int
	Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error)
}

// Generator produces an answer grounded on the retrieved context documents.
type Generator interface {
	Name() string
	Generate(ctx context.Context, question string, contexts []*model.RankedDocument, maxTokens int) (string, error)
}

// HealthChecker is implemented by backends that can probe their endpoint
// without running a real request.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}
