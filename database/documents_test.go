package database

import (
	"context"
	"sync"
	"testing"

	"github.com/mizutome/ragbench/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// axisEmbedding builds a unit vector along one axis, padded to dimension.
func axisEmbedding(dimension int, axis int) []float32 {
	embedding := make([]float32, dimension)
	embedding[axis] = 1
	return embedding
}

func TestDocumentsNewDocumentsDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewDocumentsDBHandler", func(t *testing.T) {
		documentsDbHandler, err := NewDocumentsDBHandler(database, true)
		assert.NoError(t, err, "Expected NewDocumentsDBHandler to not return an error")
		require.NotNil(t, documentsDbHandler, "Expected NewDocumentsDBHandler to return a non-nil instance")
		require.NotNil(t, documentsDbHandler.db, "Expected NewDocumentsDBHandler to have a non-nil database instance")
		require.NotNil(t, documentsDbHandler.db.Instance, "Expected NewDocumentsDBHandler to have a non-nil database connection instance")
	})

	t.Run("Invalid call NewDocumentsDBHandler with nil database", func(t *testing.T) {
		_, err := NewDocumentsDBHandler(nil, false)
		assert.Error(t, err, "Expected error when creating DocumentsDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})
}

func TestDocumentsInsert(t *testing.T) {
	spaces, documents := initHandlers(t)

	space, err := spaces.CreateSpace("insertspace", 4)
	require.NoError(t, err)

	t.Run("Insert document", func(t *testing.T) {
		doc := model.NewDocument("Go is a statically typed language.", "tech", "en")
		doc.Embedding = axisEmbedding(4, 0)

		err := documents.InsertDocument(space, doc)

		require.NoError(t, err)
		assert.Greater(t, doc.ID, int64(0), "Insert should set the generated id")
	})

	t.Run("Insert rejects wrong dimension", func(t *testing.T) {
		doc := model.NewDocument("wrongly embedded", "tech", "en")
		doc.Embedding = axisEmbedding(8, 0)

		err := documents.InsertDocument(space, doc)

		require.Error(t, err)
		var mismatch *model.DimensionMismatchError
		require.ErrorAs(t, err, &mismatch, "Expected a typed dimension mismatch error")
		assert.Equal(t, 4, mismatch.Want)
		assert.Equal(t, 8, mismatch.Got)
	})

	t.Run("Insert rejects missing embedding", func(t *testing.T) {
		doc := model.NewDocument("never embedded", "tech", "en")

		err := documents.InsertDocument(space, doc)

		require.Error(t, err)
		var mismatch *model.DimensionMismatchError
		assert.ErrorAs(t, err, &mismatch)
	})
}

func TestDocumentsInsertBatch(t *testing.T) {
	spaces, documents := initHandlers(t)

	space, err := spaces.CreateSpace("batchspace", 4)
	require.NoError(t, err)

	t.Run("Insert batch sets all generated ids", func(t *testing.T) {
		docs := []*model.Document{}
		for axis := 0; axis < 3; axis++ {
			doc := model.NewDocument("batch doc", "tech", "en")
			doc.Embedding = axisEmbedding(4, axis)
			docs = append(docs, doc)
		}

		err := documents.InsertDocuments(space, docs)

		require.NoError(t, err)
		for i, doc := range docs {
			assert.Greater(t, doc.ID, int64(0), "Batch insert should set id on document %d", i)
		}
		assert.Less(t, docs[0].ID, docs[1].ID)
		assert.Less(t, docs[1].ID, docs[2].ID)

		count, err := documents.CountDocuments(space)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("Insert batch validates every dimension before writing", func(t *testing.T) {
		good := model.NewDocument("good", "tech", "en")
		good.Embedding = axisEmbedding(4, 0)
		bad := model.NewDocument("bad", "tech", "en")
		bad.Embedding = axisEmbedding(8, 0)

		err := documents.InsertDocuments(space, []*model.Document{good, bad})

		require.Error(t, err)
		var mismatch *model.DimensionMismatchError
		require.ErrorAs(t, err, &mismatch)

		count, err := documents.CountDocuments(space)
		require.NoError(t, err)
		assert.Equal(t, 3, count, "A rejected batch must not write any document")
	})

	t.Run("Insert empty batch is a no-op", func(t *testing.T) {
		err := documents.InsertDocuments(space, nil)
		assert.NoError(t, err)
	})

	t.Run("Concurrent batches serialize per space", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()
				docs := []*model.Document{}
				for j := 0; j < 5; j++ {
					doc := model.NewDocument("concurrent batch", "tech", "en")
					doc.Embedding = axisEmbedding(4, j%4)
					docs = append(docs, doc)
				}
				errs[slot] = documents.InsertDocuments(space, docs)
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			assert.NoError(t, err, "Batch %d should succeed", i)
		}

		count, err := documents.CountDocuments(space)
		require.NoError(t, err)
		assert.Equal(t, 23, count, "All batches should land completely")
	})
}

func TestDocumentsSelect(t *testing.T) {
	spaces, documents := initHandlers(t)

	space, err := spaces.CreateSpace("selectspace", 4)
	require.NoError(t, err)

	inserted := model.NewDocument("The sky is blue.", "nature", "en")
	inserted.Embedding = []float32{0.5, 0.5, 0, 0}
	require.NoError(t, documents.InsertDocument(space, inserted))

	t.Run("Select document by id", func(t *testing.T) {
		doc, err := documents.SelectDocument(space, inserted.ID)

		require.NoError(t, err)
		assert.Equal(t, inserted.ID, doc.ID)
		assert.Equal(t, "The sky is blue.", doc.Content)
		assert.Equal(t, "nature", doc.Category())
		assert.Equal(t, "en", doc.Language())
		assert.Equal(t, []float32{0.5, 0.5, 0, 0}, doc.Embedding, "Stored embedding should round trip")
		assert.False(t, doc.CreatedAt.IsZero())
	})

	t.Run("Select unknown id returns typed error", func(t *testing.T) {
		_, err := documents.SelectDocument(space, 99999)

		require.Error(t, err)
		var notFound *model.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("Select all documents ordered by id", func(t *testing.T) {
		second := model.NewDocument("Grass is green.", "nature", "en")
		second.Embedding = axisEmbedding(4, 1)
		require.NoError(t, documents.InsertDocument(space, second))

		all, err := documents.SelectAllDocuments(space)

		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Less(t, all[0].ID, all[1].ID)
	})
}

func TestDocumentsUpsert(t *testing.T) {
	spaces, documents := initHandlers(t)

	space, err := spaces.CreateSpace("upsertspace", 4)
	require.NoError(t, err)

	t.Run("Upsert inserts under explicit id", func(t *testing.T) {
		doc := model.NewDocument("version one", "tech", "en")
		doc.ID = 42
		doc.Embedding = axisEmbedding(4, 0)

		err := documents.UpsertDocument(space, doc)

		require.NoError(t, err)
		assert.Equal(t, int64(42), doc.ID)
	})

	t.Run("Upsert replaces existing id without duplicating", func(t *testing.T) {
		doc := model.NewDocument("version two", "tech", "ja")
		doc.ID = 42
		doc.Embedding = axisEmbedding(4, 1)

		err := documents.UpsertDocument(space, doc)
		require.NoError(t, err)

		stored, err := documents.SelectDocument(space, 42)
		require.NoError(t, err)
		assert.Equal(t, "version two", stored.Content)
		assert.Equal(t, "ja", stored.Language())
		assert.Equal(t, axisEmbedding(4, 1), stored.Embedding)

		count, err := documents.CountDocuments(space)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "Upsert must not duplicate the document")
	})

	t.Run("Serial inserts stay ahead of explicit ids", func(t *testing.T) {
		doc := model.NewDocument("after upsert", "tech", "en")
		doc.Embedding = axisEmbedding(4, 2)

		err := documents.InsertDocument(space, doc)

		require.NoError(t, err)
		assert.Greater(t, doc.ID, int64(42), "Generated ids must not collide with explicit ids")
	})

	t.Run("Upsert rejects non-positive id", func(t *testing.T) {
		doc := model.NewDocument("no id", "tech", "en")
		doc.Embedding = axisEmbedding(4, 0)

		err := documents.UpsertDocument(space, doc)

		require.Error(t, err)
		var invalid *model.InvalidInputError
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestDocumentsCount(t *testing.T) {
	spaces, documents := initHandlers(t)

	space, err := spaces.CreateSpace("countspace", 4)
	require.NoError(t, err)

	insert := func(content, category, language string, axis int) {
		doc := model.NewDocument(content, category, language)
		doc.Embedding = axisEmbedding(4, axis)
		require.NoError(t, documents.InsertDocument(space, doc))
	}
	insert("tech english", "tech", "en", 0)
	insert("tech japanese", "tech", "ja", 1)
	insert("news japanese", "news", "ja", 2)

	t.Run("Count all documents", func(t *testing.T) {
		count, err := documents.CountDocuments(space)

		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("Count with category filter", func(t *testing.T) {
		count, err := documents.CountDocumentsFiltered(space, "tech", "")

		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("Count with both filters", func(t *testing.T) {
		count, err := documents.CountDocumentsFiltered(space, "tech", "ja")

		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("Count with empty filters matches all", func(t *testing.T) {
		count, err := documents.CountDocumentsFiltered(space, "", "")

		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})
}

func TestDocumentsSearch(t *testing.T) {
	spaces, documents := initHandlers(t)

	space, err := spaces.CreateSpace("searchspace", 4)
	require.NoError(t, err)

	insert := func(content, category, language string, embedding []float32) *model.Document {
		doc := model.NewDocument(content, category, language)
		doc.Embedding = embedding
		require.NoError(t, documents.InsertDocument(space, doc))
		return doc
	}
	exact := insert("exact match", "tech", "en", []float32{1, 0, 0, 0})
	insert("close match", "tech", "en", []float32{0.9, 0.1, 0, 0})
	insert("orthogonal", "news", "ja", []float32{0, 1, 0, 0})
	insert("opposite", "news", "en", []float32{-1, 0, 0, 0})

	ctx := context.Background()
	query := []float32{1, 0, 0, 0}

	t.Run("Ranks by ascending distance with 1-based ranks", func(t *testing.T) {
		config := model.DefaultSearchConfig()
		config.TopK = 3

		result, err := documents.SearchDocuments(ctx, space, query, config)

		require.NoError(t, err)
		require.Len(t, result.Documents, 3)

		assert.Equal(t, exact.ID, result.Documents[0].Document.ID)
		assert.InDelta(t, 0.0, result.Documents[0].Distance, 0.0001)
		for i, ranked := range result.Documents {
			assert.Equal(t, i+1, ranked.Rank, "Ranks should be 1-based and contiguous")
		}
		for i := 1; i < len(result.Documents); i++ {
			assert.GreaterOrEqual(t, result.Documents[i].Distance, result.Documents[i-1].Distance,
				"Distances should not decrease")
		}
	})

	t.Run("Provenance reports partition and counts", func(t *testing.T) {
		config := model.DefaultSearchConfig()
		config.TopK = 2

		result, err := documents.SearchDocuments(ctx, space, query, config)

		require.NoError(t, err)
		assert.Equal(t, "documents_searchspace_4", result.Provenance.Table)
		assert.Equal(t, "searchspace", result.Provenance.EmbeddingModel)
		assert.Equal(t, 4, result.Provenance.Dimension)
		assert.Equal(t, model.IndexNone, result.Provenance.IndexStrategy)
		assert.Equal(t, 2, result.Provenance.RequestedTopK)
		assert.Equal(t, 4, result.Provenance.CandidateCount)
		assert.Equal(t, 4, result.Provenance.FilteredCount, "No filter keeps all candidates")
		assert.Equal(t, 2, result.Provenance.ReturnedCount)
		assert.False(t, result.Provenance.StrategyCaveat, "Exact scans carry no caveat")
		assert.Greater(t, result.SearchDuration.Nanoseconds(), int64(0))
	})

	t.Run("Metadata filters narrow candidates before ranking", func(t *testing.T) {
		config := model.DefaultSearchConfig()
		config.TopK = 10
		config.Category = "news"

		result, err := documents.SearchDocuments(ctx, space, query, config)

		require.NoError(t, err)
		require.Len(t, result.Documents, 2)
		assert.Equal(t, 4, result.Provenance.CandidateCount, "Candidate count is the partition size")
		assert.Equal(t, 2, result.Provenance.FilteredCount, "Filtered count matches the predicate")
		for _, ranked := range result.Documents {
			assert.Equal(t, "news", ranked.Document.Category())
		}
	})

	t.Run("Distance threshold discards ranked results with reasons", func(t *testing.T) {
		config := model.DefaultSearchConfig()
		config.TopK = 4
		config.DistanceThreshold = 0.5

		result, err := documents.SearchDocuments(ctx, space, query, config)

		require.NoError(t, err)
		require.Len(t, result.Documents, 2, "Only documents within the threshold should remain")
		assert.Equal(t, 2, result.Provenance.ThresholdDiscarded)
		require.Len(t, result.Provenance.Discarded, 2)
		assert.Contains(t, result.Provenance.Discarded[0], "exceeds threshold")
		assert.Equal(t, 2, result.Provenance.ReturnedCount)
	})

	t.Run("Empty partition returns empty result not error", func(t *testing.T) {
		emptySpace, err := spaces.CreateSpace("emptyspace", 4)
		require.NoError(t, err)

		result, err := documents.SearchDocuments(ctx, emptySpace, query, model.DefaultSearchConfig())

		require.NoError(t, err)
		assert.Empty(t, result.Documents)
		assert.Equal(t, 0, result.Provenance.CandidateCount)
		assert.Equal(t, 0, result.Provenance.ReturnedCount)
	})

	t.Run("Search rejects wrong query dimension", func(t *testing.T) {
		_, err := documents.SearchDocuments(ctx, space, []float32{1, 0}, model.DefaultSearchConfig())

		require.Error(t, err)
		var mismatch *model.DimensionMismatchError
		assert.ErrorAs(t, err, &mismatch)
	})

	t.Run("Search rejects non-positive top k", func(t *testing.T) {
		config := model.DefaultSearchConfig()
		config.TopK = 0

		_, err := documents.SearchDocuments(ctx, space, query, config)

		require.Error(t, err)
		var invalid *model.InvalidInputError
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("Ties are broken by id ascending", func(t *testing.T) {
		tieSpace, err := spaces.CreateSpace("tiespace", 4)
		require.NoError(t, err)

		firstTie := insertInto(t, documents, tieSpace, "tie one", []float32{0, 0, 1, 0})
		secondTie := insertInto(t, documents, tieSpace, "tie two", []float32{0, 0, 1, 0})

		config := model.DefaultSearchConfig()
		config.TopK = 2

		result, err := documents.SearchDocuments(ctx, tieSpace, []float32{0, 0, 1, 0}, config)

		require.NoError(t, err)
		require.Len(t, result.Documents, 2)
		assert.Equal(t, firstTie.ID, result.Documents[0].Document.ID, "Equal distances should rank the lower id first")
		assert.Equal(t, secondTie.ID, result.Documents[1].Document.ID)
	})
}

func insertInto(t *testing.T, documents *DocumentsDBHandler, space *model.EmbeddingSpace, content string, embedding []float32) *model.Document {
	t.Helper()
	doc := model.NewDocument(content, "", "")
	doc.Embedding = embedding
	require.NoError(t, documents.InsertDocument(space, doc))
	return doc
}

func TestDocumentsDelete(t *testing.T) {
	spaces, documents := initHandlers(t)

	space, err := spaces.CreateSpace("deletespace", 4)
	require.NoError(t, err)

	t.Run("Delete document by id", func(t *testing.T) {
		doc := model.NewDocument("to be deleted", "tech", "en")
		doc.Embedding = axisEmbedding(4, 0)
		require.NoError(t, documents.InsertDocument(space, doc))

		err := documents.DeleteDocument(space, doc.ID)
		require.NoError(t, err)

		_, err = documents.SelectDocument(space, doc.ID)
		var notFound *model.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("Delete unknown id returns typed error", func(t *testing.T) {
		err := documents.DeleteDocument(space, 12345)

		require.Error(t, err)
		var notFound *model.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("Clear documents reports the removed count", func(t *testing.T) {
		for axis := 0; axis < 3; axis++ {
			doc := model.NewDocument("bulk", "tech", "en")
			doc.Embedding = axisEmbedding(4, axis)
			require.NoError(t, documents.InsertDocument(space, doc))
		}

		count, err := documents.ClearDocuments(space)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		remaining, err := documents.CountDocuments(space)
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)
	})
}
