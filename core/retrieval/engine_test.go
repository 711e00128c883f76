package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mizutome/ragbench/core/backend"
	"github.com/mizutome/ragbench/database"
	"github.com/mizutome/ragbench/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	name        string
	dimension   int
	vector      []float32
	err         error
	delay       time.Duration
	lastPurpose backend.Purpose
}

func (f *fakeEmbedder) Name() string {
	return f.name
}

func (f *fakeEmbedder) Model() string {
	return f.name + "-model"
}

func (f *fakeEmbedder) Dimension() int {
	return f.dimension
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, purpose backend.Purpose) ([]float32, error) {
	f.lastPurpose = purpose
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(text) == "" {
		return nil, &model.InvalidInputError{Reason: "text to embed is empty"}
	}
	return f.vector, nil
}

// leanVector builds a vector pointing along the given axis, leaned towards
// the next axis. Leaning moves the cosine distance away from the axis query
// in predictable steps.
func leanVector(dim int, axis int, lean float32) []float32 {
	vector := make([]float32, dim)
	vector[axis] = 1
	if lean != 0 {
		vector[(axis+1)%dim] = lean
	}
	return vector
}

func seedSpace(t *testing.T, spaces *database.SpacesDBHandler, documents *database.DocumentsDBHandler, modelName string, docs []*model.Document) *model.EmbeddingSpace {
	space, err := spaces.CreateSpace(modelName, 4)
	require.NoError(t, err)

	err = documents.InsertDocuments(space, docs)
	require.NoError(t, err)

	return space
}

func TestNewEngine(t *testing.T) {
	t.Run("Create new engine", func(t *testing.T) {
		engine, _, _ := initEngine(t)
		require.NotNil(t, engine, "Expected NewEngine to return a non-nil instance")
		assert.NotNil(t, engine.spaces, "Expected engine to have a space resolver")
	})

	t.Run("Nil logger falls back to the default logger", func(t *testing.T) {
		engine := NewEngine(nil, nil, nil)
		require.NotNil(t, engine)
		assert.NotNil(t, engine.logger)
	})
}

func TestRetrieve(t *testing.T) {
	engine, spaces, documents := initEngine(t)
	ctx := context.Background()

	near := model.NewDocument("Go is a statically typed language.", "tech", "en")
	near.Embedding = leanVector(4, 0, 0)
	leaning := model.NewDocument("Goroutines make concurrency cheap.", "tech", "en")
	leaning.Embedding = leanVector(4, 0, 0.5)
	sideways := model.NewDocument("Sourdough needs a mature starter.", "food", "en")
	sideways.Embedding = leanVector(4, 1, 0)
	opposite := model.NewDocument("パンは発酵で膨らむ。", "food", "ja")
	opposite.Embedding = []float32{-1, 0, 0, 0}

	seedSpace(t, spaces, documents, "fake", []*model.Document{near, leaning, sideways, opposite})

	embedder := &fakeEmbedder{
		name:      "fake",
		dimension: 4,
		vector:    leanVector(4, 0, 0),
		delay:     time.Millisecond,
	}

	t.Run("Retrieves ranked documents for the query", func(t *testing.T) {
		config := model.DefaultSearchConfig()
		config.TopK = 3

		result, err := engine.Retrieve(ctx, "What is Go?", embedder, config)

		require.NoError(t, err, "Expected Retrieve to not return an error")
		require.Len(t, result.Documents, 3)
		assert.Equal(t, "What is Go?", result.Query, "Result should carry the original query")
		assert.Equal(t, backend.PurposeQuery, embedder.lastPurpose, "Queries must be embedded with the query purpose")
		assert.GreaterOrEqual(t, result.EmbedDuration, embedder.delay, "Embed duration should cover the embedding call")
		assert.Greater(t, result.SearchDuration, time.Duration(0))

		for i, ranked := range result.Documents {
			assert.Equal(t, i+1, ranked.Rank, "Ranks are 1-based over the returned order")
			if i > 0 {
				assert.Greater(t, ranked.Distance, result.Documents[i-1].Distance, "Distances must increase strictly")
			}
		}
		assert.Equal(t, near.ID, result.Documents[0].Document.ID, "Identical vector ranks first at distance zero")
	})

	t.Run("Provenance reports partition and counts", func(t *testing.T) {
		config := model.DefaultSearchConfig()
		config.TopK = 3

		result, err := engine.Retrieve(ctx, "What is Go?", embedder, config)

		require.NoError(t, err)
		assert.Equal(t, model.SpaceTableName("fake", 4), result.Provenance.Table)
		assert.Equal(t, "fake", result.Provenance.EmbeddingModel)
		assert.Equal(t, 4, result.Provenance.CandidateCount)
		assert.Equal(t, 4, result.Provenance.FilteredCount)
		assert.Equal(t, 3, result.Provenance.ReturnedCount)
		assert.False(t, result.Provenance.StrategyCaveat, "Exact search carries no caveat")
	})

	t.Run("Metadata filter narrows candidates before ranking", func(t *testing.T) {
		config := model.DefaultSearchConfig()
		config.TopK = 3
		config.Category = "food"

		result, err := engine.Retrieve(ctx, "How does bread rise?", embedder, config)

		require.NoError(t, err)
		require.Len(t, result.Documents, 2)
		assert.Equal(t, sideways.ID, result.Documents[0].Document.ID)
		assert.Equal(t, opposite.ID, result.Documents[1].Document.ID)
		assert.Equal(t, 4, result.Provenance.CandidateCount)
		assert.Equal(t, 2, result.Provenance.FilteredCount)
	})

	t.Run("Distance threshold discards far results with reasons", func(t *testing.T) {
		config := model.DefaultSearchConfig()
		config.TopK = 4
		config.DistanceThreshold = 0.5

		result, err := engine.Retrieve(ctx, "What is Go?", embedder, config)

		require.NoError(t, err)
		assert.Len(t, result.Documents, 2, "Only the near and leaning documents sit inside the threshold")
		assert.Equal(t, 2, result.Provenance.ThresholdDiscarded)
		require.Len(t, result.Provenance.Discarded, 2)
		assert.Contains(t, result.Provenance.Discarded[0], "exceeds threshold")
	})

	t.Run("Empty query fails at the embed stage", func(t *testing.T) {
		result, err := engine.Retrieve(ctx, "   ", embedder, model.DefaultSearchConfig())

		require.Error(t, err)
		assert.Nil(t, result, "No partial result on a failed stage")
		assert.ErrorContains(t, err, "retrieval failed at embed")
		var retrievalErr *model.RetrievalError
		require.ErrorAs(t, err, &retrievalErr)
		var invalidInput *model.InvalidInputError
		assert.ErrorAs(t, err, &invalidInput, "Typed cause must stay reachable")
	})

	t.Run("Embedding failure keeps the typed cause", func(t *testing.T) {
		broken := &fakeEmbedder{
			name:      "fake",
			dimension: 4,
			err:       &model.BackendUnavailableError{Backend: "fake", Err: context.DeadlineExceeded},
		}

		_, err := engine.Retrieve(ctx, "What is Go?", broken, model.DefaultSearchConfig())

		require.Error(t, err)
		assert.ErrorContains(t, err, "retrieval failed at embed")
		var unavailable *model.BackendUnavailableError
		assert.ErrorAs(t, err, &unavailable)
	})

	t.Run("Unknown embedder space fails at the space stage", func(t *testing.T) {
		ghost := &fakeEmbedder{name: "ghostfake", dimension: 4, vector: leanVector(4, 0, 0)}

		_, err := engine.Retrieve(ctx, "Anyone home?", ghost, model.DefaultSearchConfig())

		require.Error(t, err)
		assert.ErrorContains(t, err, "retrieval failed at space")
		var notFound *model.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "embedding space", notFound.Kind)
	})

	t.Run("Dimension drift fails before the search", func(t *testing.T) {
		drifted := &fakeEmbedder{name: "fake", dimension: 3, vector: []float32{1, 0, 0}}

		_, err := engine.Retrieve(ctx, "What is Go?", drifted, model.DefaultSearchConfig())

		require.Error(t, err)
		assert.ErrorContains(t, err, "retrieval failed at space")
		var mismatch *model.DimensionMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 4, mismatch.Want)
		assert.Equal(t, 3, mismatch.Got)
	})

	t.Run("Non-positive top k wraps the search stage cause", func(t *testing.T) {
		_, err := engine.Retrieve(ctx, "What is Go?", embedder, model.SearchConfig{TopK: 0})

		require.Error(t, err)
		assert.ErrorContains(t, err, "retrieval failed at search")
		var invalidInput *model.InvalidInputError
		assert.ErrorAs(t, err, &invalidInput)
	})
}

func TestRetrieveStrategyCaveat(t *testing.T) {
	engine, spaces, documents := initEngine(t)
	ctx := context.Background()

	// Identical corpora in both spaces, three documents leaning around each
	// of the four axes. Document ids line up because both partitions assign
	// them in insertion order.
	var docs []*model.Document
	for axis := 0; axis < 4; axis++ {
		for step := 0; step < 3; step++ {
			doc := model.NewDocument("axis document", "tech", "en")
			doc.Embedding = leanVector(4, axis, float32(step)/10)
			docs = append(docs, doc)
		}
	}

	exactDocs := make([]*model.Document, len(docs))
	prunedDocs := make([]*model.Document, len(docs))
	for i, doc := range docs {
		exactCopy := *doc
		prunedCopy := *doc
		exactDocs[i] = &exactCopy
		prunedDocs[i] = &prunedCopy
	}

	seedSpace(t, spaces, documents, "exactfake", exactDocs)
	seedSpace(t, spaces, documents, "prunedfake", prunedDocs)

	_, err := spaces.ChangeIndexStrategy(ctx, "prunedfake", model.IndexIVFFlat, map[string]interface{}{"lists": 4})
	require.NoError(t, err)

	exact := &fakeEmbedder{name: "exactfake", dimension: 4, vector: leanVector(4, 0, 0)}
	pruned := &fakeEmbedder{name: "prunedfake", dimension: 4, vector: leanVector(4, 0, 0)}

	config := model.DefaultSearchConfig()
	config.TopK = 3

	exactResult, err := engine.Retrieve(ctx, "axis zero", exact, config)
	require.NoError(t, err)

	t.Run("Exact strategy returns the full top k without caveat", func(t *testing.T) {
		assert.Len(t, exactResult.Documents, 3)
		assert.False(t, exactResult.Provenance.StrategyCaveat)
		assert.Empty(t, exactResult.Provenance.CaveatMessage())
	})

	t.Run("Clustered strategy carries the caveat and may prune", func(t *testing.T) {
		result, err := engine.Retrieve(ctx, "axis zero", pruned, config)

		require.NoError(t, err)
		assert.True(t, result.Provenance.StrategyCaveat, "Cluster pruning must be surfaced in the provenance")
		assert.NotEmpty(t, result.Provenance.CaveatMessage())
		// Pruning may drop matching documents on small data, it never adds.
		assert.LessOrEqual(t, len(result.Documents), len(exactResult.Documents))
	})

	t.Run("Raising probes to the list count restores exact recall", func(t *testing.T) {
		widened := config
		widened.Probes = 4

		result, err := engine.Retrieve(ctx, "axis zero", pruned, widened)

		require.NoError(t, err)
		assert.Equal(t, 4, result.Provenance.Probes)
		require.Len(t, result.Documents, len(exactResult.Documents), "Probing every cluster scans the whole partition")
		for i, ranked := range result.Documents {
			assert.Equal(t, exactResult.Documents[i].Document.ID, ranked.Document.ID, "Full probing matches the exact ranking")
		}
	})
}
