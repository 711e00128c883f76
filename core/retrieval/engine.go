package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mizutome/ragbench/core/backend"
	"github.com/mizutome/ragbench/model"
)

// SpaceResolver resolves the embedding space an embedder writes to.
type SpaceResolver interface {
	SelectSpace(modelName string) (*model.EmbeddingSpace, error)
}

// DocumentSearcher ranks a space's documents against a query embedding.
type DocumentSearcher interface {
	SearchDocuments(ctx context.Context, space *model.EmbeddingSpace, queryEmbedding []float32, config model.SearchConfig) (*model.SearchResult, error)
}

// Engine runs the retrieval half of a pattern: embed the query, resolve
// the embedder's space and rank the stored documents by cosine distance.
type Engine struct {
	spaces    SpaceResolver
	documents DocumentSearcher
	logger    *slog.Logger
}

// NewEngine creates a new retrieval engine.
func NewEngine(spaces SpaceResolver, documents DocumentSearcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		spaces:    spaces,
		documents: documents,
		logger:    logger,
	}
}

// Retrieve embeds the query and searches the embedder's space. The query is
// embedded with the query purpose, the space is resolved by embedder name
// and verified against the embedding dimension before the search runs.
// Failures are wrapped in a RetrievalError naming the stage, the typed
// cause stays reachable through errors.As. No partial results are returned,
// a failed stage fails the whole retrieval.
func (e *Engine) Retrieve(ctx context.Context, query string, embedder backend.Embedder, config model.SearchConfig) (*model.SearchResult, error) {
	embedStart := time.Now()
	embedding, err := embedder.Embed(ctx, query, backend.PurposeQuery)
	if err != nil {
		return nil, &model.RetrievalError{Stage: "embed", Err: err}
	}
	embedDuration := time.Since(embedStart)

	space, err := e.spaces.SelectSpace(embedder.Name())
	if err != nil {
		return nil, &model.RetrievalError{Stage: "space", Err: err}
	}
	if len(embedding) != space.Dimension {
		return nil, &model.RetrievalError{
			Stage: "space",
			Err: &model.DimensionMismatchError{
				Context: fmt.Sprintf("query against %s", space.Table),
				Want:    space.Dimension,
				Got:     len(embedding),
			},
		}
	}

	result, err := e.documents.SearchDocuments(ctx, space, embedding, config)
	if err != nil {
		return nil, &model.RetrievalError{Stage: "search", Err: err}
	}

	result.Query = query
	result.EmbedDuration = embedDuration

	e.logger.Info("Retrieved documents",
		"table", result.Provenance.Table,
		"embedder", embedder.Name(),
		"returned", result.Provenance.ReturnedCount,
		"candidates", result.Provenance.CandidateCount,
		"filtered", result.Provenance.FilteredCount,
		"discarded", result.Provenance.ThresholdDiscarded,
	)
	if caveat := result.Provenance.CaveatMessage(); caveat != "" {
		e.logger.Warn("Search ran on a pruning index", "table", result.Provenance.Table, "caveat", caveat)
	}
	if len(result.Documents) > 0 {
		top := result.Documents[0]
		e.logger.Debug("Top ranked document",
			"id", top.Document.ID,
			"distance", top.Distance,
			"content", top.Document.Preview(80),
		)
	}

	return result, nil
}
