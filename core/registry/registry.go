package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mizutome/ragbench/core/backend"
	"github.com/mizutome/ragbench/model"
)

// SpaceSource resolves embedding spaces by model name.
type SpaceSource interface {
	SelectSpace(modelName string) (*model.EmbeddingSpace, error)
}

// DocumentSource reports how many documents a partition holds.
type DocumentSource interface {
	CountDocuments(space *model.EmbeddingSpace) (int, error)
}

// Pattern pairs one embedding backend with one generation backend. The id
// is "<embedder>+<generator>", e.g. "google+gemini".
type Pattern struct {
	ID        string
	Embedder  backend.Embedder
	Generator backend.Generator
}

// PatternID builds the id of an embedder/generator pairing.
func PatternID(embedder backend.Embedder, generator backend.Generator) string {
	return embedder.Name() + "+" + generator.Name()
}

// Registry holds the registered patterns and validates them against the
// stored embedding spaces.
type Registry struct {
	mu        sync.RWMutex
	spaces    SpaceSource
	documents DocumentSource
	patterns  map[string]*Pattern
	order     []string
}

// NewRegistry creates an empty registry over the given space and document
// sources.
func NewRegistry(spaces SpaceSource, documents DocumentSource) *Registry {
	return &Registry{
		spaces:    spaces,
		documents: documents,
		patterns:  map[string]*Pattern{},
	}
}

// Register adds a pattern for the embedder/generator pairing. The pairing
// only has to be resolvable when it is used, registration does not touch
// the database.
func (r *Registry) Register(embedder backend.Embedder, generator backend.Generator) (*Pattern, error) {
	if embedder == nil || generator == nil {
		return nil, &model.ConfigurationError{Reason: "pattern requires an embedder and a generator"}
	}

	id := PatternID(embedder, generator)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.patterns[id]; exists {
		return nil, &model.ConfigurationError{Reason: fmt.Sprintf("pattern %s is already registered", id)}
	}

	pattern := &Pattern{ID: id, Embedder: embedder, Generator: generator}
	r.patterns[id] = pattern
	r.order = append(r.order, id)

	return pattern, nil
}

// List returns the registered patterns in registration order.
func (r *Registry) List() []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := make([]*Pattern, 0, len(r.order))
	for _, id := range r.order {
		patterns = append(patterns, r.patterns[id])
	}
	return patterns
}

// IDs returns the registered pattern ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Resolve returns the pattern and its embedding space after validating that
// the space exists, matches the embedder dimension and holds documents.
// Validation runs on every call, a space dropped or emptied after
// registration invalidates the pattern immediately.
func (r *Registry) Resolve(id string) (*Pattern, *model.EmbeddingSpace, error) {
	r.mu.RLock()
	pattern, exists := r.patterns[id]
	r.mu.RUnlock()
	if !exists {
		return nil, nil, &model.NotFoundError{Kind: "pattern", Name: id}
	}

	space, err := r.spaces.SelectSpace(pattern.Embedder.Name())
	if err != nil {
		var notFound *model.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil, &model.InvalidPatternError{
				PatternID: id,
				Reason:    fmt.Sprintf("no embedding space for model %s", pattern.Embedder.Name()),
			}
		}
		return nil, nil, err
	}

	if space.Dimension != pattern.Embedder.Dimension() {
		return nil, nil, &model.InvalidPatternError{
			PatternID: id,
			Reason: fmt.Sprintf("embedder dimension %d does not match space dimension %d",
				pattern.Embedder.Dimension(), space.Dimension),
		}
	}

	count, err := r.documents.CountDocuments(space)
	if err != nil {
		return nil, nil, err
	}
	if count == 0 {
		return nil, nil, &model.InvalidPatternError{
			PatternID: id,
			Reason:    fmt.Sprintf("space %s holds no documents", space.Model),
		}
	}

	return pattern, space, nil
}
