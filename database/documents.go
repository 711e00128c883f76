package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mizutome/ragbench/helper"
	"github.com/mizutome/ragbench/model"
	loadSql "github.com/mizutome/ragbench/sql"
	"github.com/pgvector/pgvector-go"
)

// DocumentsDBHandlerFunctions defines the interface for document operations
// on the per space partition tables.
type DocumentsDBHandlerFunctions interface {
	InsertDocument(space *model.EmbeddingSpace, doc *model.Document) error
	InsertDocuments(space *model.EmbeddingSpace, docs []*model.Document) error
	UpsertDocument(space *model.EmbeddingSpace, doc *model.Document) error
	SelectDocument(space *model.EmbeddingSpace, id int64) (*model.Document, error)
	SelectAllDocuments(space *model.EmbeddingSpace) ([]*model.Document, error)
	CountDocuments(space *model.EmbeddingSpace) (int, error)
	CountDocumentsFiltered(space *model.EmbeddingSpace, category string, language string) (int, error)
	SearchDocuments(ctx context.Context, space *model.EmbeddingSpace, queryEmbedding []float32, config model.SearchConfig) (*model.SearchResult, error)
	DeleteDocument(space *model.EmbeddingSpace, id int64) error
	ClearDocuments(space *model.EmbeddingSpace) (int, error)
}

// DocumentsDBHandler handles document-related database operations.
// The partition table is always resolved through the space argument, a
// document can never land in a table of a different dimension.
type DocumentsDBHandler struct {
	db         *helper.Database
	writeLocks sync.Map
}

// NewDocumentsDBHandler creates a new documents database handler.
// It initializes the database connection and loads document-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewDocumentsDBHandler(db *helper.Database, force bool) (*DocumentsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	documentsDbHandler := &DocumentsDBHandler{
		db: db,
	}

	err := loadSql.LoadDocumentsSql(documentsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load documents sql", err)
	}

	db.Logger.Info("Initialized DocumentsDBHandler")

	return documentsDbHandler, nil
}

// checkDimension rejects embeddings that do not match the space dimension.
func (h *DocumentsDBHandler) checkDimension(space *model.EmbeddingSpace, embedding []float32, context string) error {
	if len(embedding) != space.Dimension {
		return &model.DimensionMismatchError{
			Context: context,
			Want:    space.Dimension,
			Got:     len(embedding),
		}
	}
	return nil
}

// writeLock returns the ingestion lock of the space. Writes are serialized
// per space so bulk inserts never interleave on one partition.
func (h *DocumentsDBHandler) writeLock(space *model.EmbeddingSpace) *sync.Mutex {
	lock, _ := h.writeLocks.LoadOrStore(space.SpaceID(), &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// InsertDocument inserts a new document into the space's partition table
// and sets the generated id on the document.
func (h *DocumentsDBHandler) InsertDocument(space *model.EmbeddingSpace, doc *model.Document) error {
	if err := h.checkDimension(space, doc.Embedding, fmt.Sprintf("insert into %s", space.Table)); err != nil {
		return err
	}

	lock := h.writeLock(space)
	lock.Lock()
	defer lock.Unlock()

	row := h.db.Instance.QueryRow(
		`SELECT insert_document($1, $2, $3::vector, $4::jsonb)`,
		space.Table,
		doc.Content,
		pgvector.NewVector(doc.Embedding),
		doc.Metadata,
	)

	err := row.Scan(&doc.ID)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// InsertDocuments inserts documents as one unit. All embeddings are
// validated against the space before anything is written, a failed insert
// rolls the whole batch back.
func (h *DocumentsDBHandler) InsertDocuments(space *model.EmbeddingSpace, docs []*model.Document) error {
	for i, doc := range docs {
		if err := h.checkDimension(space, doc.Embedding, fmt.Sprintf("insert batch item %d into %s", i, space.Table)); err != nil {
			return err
		}
	}
	if len(docs) == 0 {
		return nil
	}

	lock := h.writeLock(space)
	lock.Lock()
	defer lock.Unlock()

	tx, err := h.db.Instance.Begin()
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, doc := range docs {
		row := tx.QueryRow(
			`SELECT insert_document($1, $2, $3::vector, $4::jsonb)`,
			space.Table,
			doc.Content,
			pgvector.NewVector(doc.Embedding),
			doc.Metadata,
		)
		if err := row.Scan(&doc.ID); err != nil {
			return helper.NewError("scan", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit", err)
	}

	h.db.Logger.Info("Inserted documents", "table", space.Table, "count", len(docs))

	return nil
}

// UpsertDocument inserts a document under its explicit id, replacing
// content, embedding and metadata when the id already exists. Upserting
// the same document twice leaves the partition unchanged.
func (h *DocumentsDBHandler) UpsertDocument(space *model.EmbeddingSpace, doc *model.Document) error {
	if doc.ID <= 0 {
		return &model.InvalidInputError{Reason: fmt.Sprintf("upsert requires a positive document id, got %d", doc.ID)}
	}
	if err := h.checkDimension(space, doc.Embedding, fmt.Sprintf("upsert into %s", space.Table)); err != nil {
		return err
	}

	lock := h.writeLock(space)
	lock.Lock()
	defer lock.Unlock()

	row := h.db.Instance.QueryRow(
		`SELECT upsert_document($1, $2, $3, $4::vector, $5::jsonb)`,
		space.Table,
		doc.ID,
		doc.Content,
		pgvector.NewVector(doc.Embedding),
		doc.Metadata,
	)

	err := row.Scan(&doc.ID)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectDocument retrieves a document by id, including its embedding.
func (h *DocumentsDBHandler) SelectDocument(space *model.EmbeddingSpace, id int64) (*model.Document, error) {
	doc := &model.Document{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_document($1, $2)`,
		space.Table,
		id,
	)

	var embedding pgvector.Vector
	err := row.Scan(
		&doc.ID,
		&doc.Content,
		&embedding,
		&doc.Metadata,
		&doc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "document", Name: fmt.Sprintf("%s/%d", space.Table, id)}
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	doc.Embedding = embedding.Slice()

	return doc, nil
}

// SelectAllDocuments retrieves all documents of the space ordered by id.
func (h *DocumentsDBHandler) SelectAllDocuments(space *model.EmbeddingSpace) ([]*model.Document, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_all_documents($1)`,
		space.Table,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var documents []*model.Document
	for rows.Next() {
		doc := &model.Document{}
		var embedding pgvector.Vector
		err := rows.Scan(
			&doc.ID,
			&doc.Content,
			&embedding,
			&doc.Metadata,
			&doc.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		doc.Embedding = embedding.Slice()

		documents = append(documents, doc)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return documents, nil
}

// CountDocuments counts all documents of the space.
func (h *DocumentsDBHandler) CountDocuments(space *model.EmbeddingSpace) (int, error) {
	var count int
	err := h.db.Instance.QueryRow(
		`SELECT count_documents($1)`,
		space.Table,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return count, nil
}

// CountDocumentsFiltered counts documents matching the metadata filters.
// Empty filters match all documents.
func (h *DocumentsDBHandler) CountDocumentsFiltered(space *model.EmbeddingSpace, category string, language string) (int, error) {
	var count int
	err := h.db.Instance.QueryRow(
		`SELECT count_documents_filtered($1, $2, $3)`,
		space.Table,
		nullIfEmpty(category),
		nullIfEmpty(language),
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return count, nil
}

// SearchDocuments ranks the space's documents by cosine distance to the
// query embedding. Metadata filters narrow the candidates before ranking,
// the distance threshold discards ranked results afterwards. The returned
// provenance reports the partition, both candidate counts and the strategy
// caveat when the space is bound to a cluster pruning index.
func (h *DocumentsDBHandler) SearchDocuments(ctx context.Context, space *model.EmbeddingSpace, queryEmbedding []float32, config model.SearchConfig) (*model.SearchResult, error) {
	if config.TopK <= 0 {
		return nil, &model.InvalidInputError{Reason: fmt.Sprintf("top k must be positive, got %d", config.TopK)}
	}
	if err := h.checkDimension(space, queryEmbedding, fmt.Sprintf("search in %s", space.Table)); err != nil {
		return nil, err
	}

	start := time.Now()

	// One snapshot for counts and ranking so concurrent writes cannot skew
	// the reported candidate numbers.
	tx, err := h.db.Instance.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, helper.NewError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Probes only matter for the clustered strategy, raising them widens
	// the searched clusters for this transaction.
	probes := 0
	if config.Probes > 0 && space.IndexStrategy == model.IndexIVFFlat {
		probes = config.Probes
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL ivfflat.probes = %d;`, probes))
		if err != nil {
			return nil, helper.NewError("set probes", err)
		}
	}

	var candidateCount int
	err = tx.QueryRowContext(ctx, `SELECT count_documents($1)`, space.Table).Scan(&candidateCount)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	filteredCount := candidateCount
	if config.Filtered() {
		err = tx.QueryRowContext(ctx,
			`SELECT count_documents_filtered($1, $2, $3)`,
			space.Table,
			nullIfEmpty(config.Category),
			nullIfEmpty(config.Language),
		).Scan(&filteredCount)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT * FROM search_documents($1, $2::vector, $3, $4, $5)`,
		space.Table,
		pgvector.NewVector(queryEmbedding),
		nullIfEmpty(config.Category),
		nullIfEmpty(config.Language),
		config.TopK,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var ranked []*model.RankedDocument
	var discarded []string
	for rows.Next() {
		doc := &model.Document{}
		var distance float64
		err := rows.Scan(
			&doc.ID,
			&doc.Content,
			&doc.Metadata,
			&doc.CreatedAt,
			&distance,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		if config.DistanceThreshold > 0 && distance > config.DistanceThreshold {
			discarded = append(discarded, fmt.Sprintf(
				"document %d at distance %.4f exceeds threshold %.4f", doc.ID, distance, config.DistanceThreshold,
			))
			continue
		}

		ranked = append(ranked, &model.RankedDocument{
			Document: doc,
			Distance: distance,
			Rank:     len(ranked) + 1,
		})
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, helper.NewError("commit", err)
	}

	result := &model.SearchResult{
		Documents: ranked,
		Provenance: model.Provenance{
			Table:              space.Table,
			EmbeddingModel:     space.Model,
			Dimension:          space.Dimension,
			IndexStrategy:      space.IndexStrategy,
			RequestedTopK:      config.TopK,
			CandidateCount:     candidateCount,
			FilteredCount:      filteredCount,
			ReturnedCount:      len(ranked),
			ThresholdDiscarded: len(discarded),
			Discarded:          discarded,
			StrategyCaveat:     space.IndexStrategy.Clustered(),
			Probes:             probes,
		},
		SearchDuration: time.Since(start),
	}

	return result, nil
}

// DeleteDocument deletes a document by id.
func (h *DocumentsDBHandler) DeleteDocument(space *model.EmbeddingSpace, id int64) error {
	var deleted bool
	err := h.db.Instance.QueryRow(
		`SELECT delete_document($1, $2)`,
		space.Table,
		id,
	).Scan(&deleted)
	if err != nil {
		return helper.NewError("scan", err)
	}
	if !deleted {
		return &model.NotFoundError{Kind: "document", Name: fmt.Sprintf("%s/%d", space.Table, id)}
	}

	return nil
}

// ClearDocuments removes all documents of the space and reports how many.
func (h *DocumentsDBHandler) ClearDocuments(space *model.EmbeddingSpace) (int, error) {
	var count int
	err := h.db.Instance.QueryRow(
		`SELECT clear_documents($1)`,
		space.Table,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	h.db.Logger.Info("Cleared documents", "table", space.Table, "count", count)

	return count, nil
}

// nullIfEmpty maps empty filter strings to SQL NULL so the stored
// functions skip the predicate.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
