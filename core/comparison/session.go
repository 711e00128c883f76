package comparison

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mizutome/ragbench/core/backend"
	"github.com/mizutome/ragbench/core/registry"
	"github.com/mizutome/ragbench/model"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxParallel bounds how many pattern pipelines run at once.
	DefaultMaxParallel = 4
	// DefaultGenerationTimeout is the per pattern generation budget.
	DefaultGenerationTimeout = 60 * time.Second
)

// PatternSource resolves patterns and lists the registered ids.
type PatternSource interface {
	Resolve(id string) (*registry.Pattern, *model.EmbeddingSpace, error)
	IDs() []string
}

// Retriever runs the retrieval half of one pattern.
type Retriever interface {
	Retrieve(ctx context.Context, query string, embedder backend.Embedder, config model.SearchConfig) (*model.SearchResult, error)
}

// SessionConfig bounds one comparison run. The zero value falls back to the
// defaults, so callers only set what they want to change.
type SessionConfig struct {
	// MaxParallel caps the concurrently running pattern pipelines.
	MaxParallel int `json:"max_parallel,omitempty"`

	// GenerationTimeout bounds each pattern's generation call. A pattern
	// whose generation times out degrades to a retrieval-only outcome.
	GenerationTimeout time.Duration `json:"generation_timeout,omitempty"`

	// MaxAnswerTokens caps the answer length, zero leaves the backend default.
	MaxAnswerTokens int `json:"max_answer_tokens,omitempty"`

	// Search configures the retrieval half of every pattern.
	Search model.SearchConfig `json:"search"`
}

// DefaultSessionConfig returns a sensible default configuration
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxParallel:       DefaultMaxParallel,
		GenerationTimeout: DefaultGenerationTimeout,
		MaxAnswerTokens:   0,
		Search:            model.DefaultSearchConfig(),
	}
}

// Session runs one query through several patterns and collects the per
// pattern outcomes. Pipelines are independent, a failing backend in one
// pattern never aborts the others.
type Session struct {
	patterns PatternSource
	engine   Retriever
	logger   *slog.Logger
}

// NewSession creates a comparison session over the registered patterns.
func NewSession(patterns PatternSource, engine Retriever, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		patterns: patterns,
		engine:   engine,
		logger:   logger,
	}
}

// Run executes retrieval and generation for every requested pattern and
// aggregates the outcomes in the requested order, not in completion order.
// An empty patternIDs runs all registered patterns. Cancelling the context
// cancels the in-flight pipelines; a pipeline that finished retrieval keeps
// its partial result with the generation stage marked cancelled.
func (s *Session) Run(ctx context.Context, query string, patternIDs []string, config SessionConfig) (*model.ComparisonRun, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &model.InvalidInputError{Reason: "query is empty"}
	}

	if len(patternIDs) == 0 {
		patternIDs = s.patterns.IDs()
	}
	if len(patternIDs) == 0 {
		return nil, &model.ConfigurationError{Reason: "no patterns registered"}
	}

	maxParallel := config.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	run := &model.ComparisonRun{
		ID:        uuid.New(),
		Query:     query,
		StartedAt: time.Now(),
		Outcomes:  make([]*model.PatternOutcome, len(patternIDs)),
	}

	s.logger.Info("Starting comparison run", "run", run.ID, "patterns", len(patternIDs), "parallel", maxParallel)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallel)

	for i, patternID := range patternIDs {
		group.Go(func() error {
			// Failures are recorded in the outcome slot, never returned.
			// A returned error would cancel the sibling pipelines.
			run.Outcomes[i] = s.runPattern(groupCtx, query, patternID, config)
			return nil
		})
	}

	_ = group.Wait()
	run.Duration = time.Since(run.StartedAt)

	succeeded := 0
	for _, outcome := range run.Outcomes {
		if outcome.Succeeded() {
			succeeded++
		}
	}
	s.logger.Info("Comparison run finished", "run", run.ID, "succeeded", succeeded, "patterns", len(run.Outcomes), "duration", run.Duration)

	return run, nil
}

// runPattern drives resolve, retrieve and generate for one pattern and
// records the outcome. Degraded outcomes keep the retrieval result: a
// cancelled run marks the generation stage cancelled, a generation timeout
// marks the outcome retrieval-only.
func (s *Session) runPattern(ctx context.Context, query string, patternID string, config SessionConfig) *model.PatternOutcome {
	outcome := &model.PatternOutcome{PatternID: patternID}
	start := time.Now()
	defer func() {
		outcome.Timing.Total = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		outcome.Err = err
		return outcome
	}

	pattern, _, err := s.patterns.Resolve(patternID)
	if err != nil {
		s.logger.Warn("Pattern failed to resolve", "pattern", patternID, "error", err)
		outcome.Err = err
		return outcome
	}

	result, err := s.engine.Retrieve(ctx, query, pattern.Embedder, config.Search)
	if err != nil {
		s.logger.Warn("Pattern retrieval failed", "pattern", patternID, "error", err)
		outcome.Err = err
		return outcome
	}
	outcome.Result = result
	outcome.Timing.Embed = result.EmbedDuration
	outcome.Timing.Search = result.SearchDuration

	if ctx.Err() != nil {
		outcome.GenerationCancelled = true
		return outcome
	}

	generationTimeout := config.GenerationTimeout
	if generationTimeout <= 0 {
		generationTimeout = DefaultGenerationTimeout
	}
	generateCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	generateStart := time.Now()
	answer, err := pattern.Generator.Generate(generateCtx, query, result.Documents, config.MaxAnswerTokens)
	outcome.Timing.Generate = time.Since(generateStart)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			outcome.GenerationCancelled = true
		case generateCtx.Err() == context.DeadlineExceeded:
			s.logger.Warn("Pattern generation timed out", "pattern", patternID, "timeout", generationTimeout)
			outcome.RetrievalOnly = true
		default:
			s.logger.Warn("Pattern generation failed", "pattern", patternID, "error", err)
			outcome.Err = err
		}
		return outcome
	}

	outcome.Answer = answer
	return outcome
}
