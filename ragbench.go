package ragbench

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mizutome/ragbench/core/backend"
	"github.com/mizutome/ragbench/core/comparison"
	"github.com/mizutome/ragbench/core/registry"
	"github.com/mizutome/ragbench/core/retrieval"
	"github.com/mizutome/ragbench/database"
	"github.com/mizutome/ragbench/helper"
	"github.com/mizutome/ragbench/model"
	loadSql "github.com/mizutome/ragbench/sql"
)

// Bench provides a unified interface to embedding spaces, documents,
// patterns and comparison runs
type Bench struct {
	DB        *helper.Database
	Spaces    *database.SpacesDBHandler
	Documents *database.DocumentsDBHandler
	Registry  *registry.Registry
	Engine    *retrieval.Engine
	Session   *comparison.Session
	// Logging
	log *slog.Logger
}

// NewBench creates a new Bench instance with all handlers initialized
func NewBench(config *helper.DatabaseConfiguration) (*Bench, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db := helper.NewDatabase("ragbench", config, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// force=false to not reload if functions already exist
	spaces, err := database.NewSpacesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create spaces handler", err)
	}

	documents, err := database.NewDocumentsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create documents handler", err)
	}

	reg := registry.NewRegistry(spaces, documents)
	engine := retrieval.NewEngine(spaces, documents, logger)
	session := comparison.NewSession(reg, engine, logger)

	return &Bench{
		DB:        db,
		Spaces:    spaces,
		Documents: documents,
		Registry:  reg,
		Engine:    engine,
		Session:   session,
		log:       logger,
	}, nil
}

// Close closes the database connection
func (b *Bench) Close() error {
	if b.DB != nil && b.DB.Instance != nil {
		return b.DB.Instance.Close()
	}
	return nil
}

// CreateSpace registers an embedding space and creates its partition table.
// Creating an existing space with the same dimension returns it unchanged.
func (b *Bench) CreateSpace(modelName string, dimension int) (*model.EmbeddingSpace, error) {
	return b.Spaces.CreateSpace(modelName, dimension)
}

// CreateSpaceFor creates the space matching an embedder's name and
// dimension, the usual way to set up storage for a backend.
func (b *Bench) CreateSpaceFor(embedder backend.Embedder) (*model.EmbeddingSpace, error) {
	return b.Spaces.CreateSpace(embedder.Name(), embedder.Dimension())
}

// RegisterPattern pairs an embedding backend with a generation backend.
// The pattern id is "<embedder>+<generator>".
func (b *Bench) RegisterPattern(embedder backend.Embedder, generator backend.Generator) (*registry.Pattern, error) {
	return b.Registry.Register(embedder, generator)
}

// Patterns returns the registered pattern ids in registration order.
func (b *Bench) Patterns() []string {
	return b.Registry.IDs()
}

// InsertDocument inserts an already embedded document into the space.
func (b *Bench) InsertDocument(space *model.EmbeddingSpace, doc *model.Document) error {
	return b.Documents.InsertDocument(space, doc)
}

// EmbedAndInsert embeds the documents with the embedder and inserts them as
// one batch into the embedder's space. A failed embedding aborts before
// anything is written, so the partition never holds a half embedded batch.
func (b *Bench) EmbedAndInsert(ctx context.Context, embedder backend.Embedder, docs []*model.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	space, err := b.Spaces.SelectSpace(embedder.Name())
	if err != nil {
		return 0, err
	}

	for i, doc := range docs {
		embedding, err := embedder.Embed(ctx, doc.Content, backend.PurposeDocument)
		if err != nil {
			return 0, helper.NewError(fmt.Sprintf("embed document %d", i), err)
		}
		doc.Embedding = embedding
	}

	err = b.Documents.InsertDocuments(space, docs)
	if err != nil {
		return 0, err
	}

	b.log.Info("Embedded and inserted documents", "space", space.SpaceID(), "count", len(docs))

	return len(docs), nil
}

// Search runs retrieval for one pattern without generation. The pattern is
// validated on every call, so a dropped or emptied space surfaces here.
func (b *Bench) Search(ctx context.Context, patternID string, query string, config model.SearchConfig) (*model.SearchResult, error) {
	pattern, _, err := b.Registry.Resolve(patternID)
	if err != nil {
		return nil, err
	}
	return b.Engine.Retrieve(ctx, query, pattern.Embedder, config)
}

// Ask runs retrieval and generation for one pattern. The outcome is
// returned even when the pattern failed, together with its recorded error,
// so callers keep the partial retrieval result of a degraded run.
func (b *Bench) Ask(ctx context.Context, patternID string, query string, config comparison.SessionConfig) (*model.PatternOutcome, error) {
	run, err := b.Session.Run(ctx, query, []string{patternID}, config)
	if err != nil {
		return nil, err
	}
	outcome := run.Outcome(patternID)
	return outcome, outcome.Err
}

// Compare runs one query through the requested patterns, or through all
// registered patterns when none are given. Failures stay per pattern, the
// run itself only fails on invalid input.
func (b *Bench) Compare(ctx context.Context, query string, patternIDs []string, config comparison.SessionConfig) (*model.ComparisonRun, error) {
	return b.Session.Run(ctx, query, patternIDs, config)
}

// ChangeIndexStrategy rebuilds the vector index of one space's partition
// table and records the strategy in the registry.
func (b *Bench) ChangeIndexStrategy(ctx context.Context, modelName string, strategy model.IndexStrategy, params map[string]interface{}) (*model.EmbeddingSpace, error) {
	return b.Spaces.ChangeIndexStrategy(ctx, modelName, strategy, params)
}

// Health probes the database and every registered backend exposing a
// health check. One entry per probe, nil means healthy.
func (b *Bench) Health(ctx context.Context) map[string]error {
	health := map[string]error{
		"database": b.DB.Instance.PingContext(ctx),
	}

	for _, pattern := range b.Registry.List() {
		if checker, ok := pattern.Embedder.(backend.HealthChecker); ok {
			key := "embedder/" + pattern.Embedder.Name()
			if _, probed := health[key]; !probed {
				health[key] = checker.CheckHealth(ctx)
			}
		}
		if checker, ok := pattern.Generator.(backend.HealthChecker); ok {
			key := "generator/" + pattern.Generator.Name()
			if _, probed := health[key]; !probed {
				health[key] = checker.CheckHealth(ctx)
			}
		}
	}

	return health
}
