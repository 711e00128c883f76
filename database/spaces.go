package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mizutome/ragbench/helper"
	"github.com/mizutome/ragbench/model"
	loadSql "github.com/mizutome/ragbench/sql"
)

// SpacesDBHandlerFunctions defines the interface for embedding space operations.
type SpacesDBHandlerFunctions interface {
	CreateSpace(modelName string, dimension int) (*model.EmbeddingSpace, error)
	SelectSpace(modelName string) (*model.EmbeddingSpace, error)
	SelectAllSpaces() ([]*model.EmbeddingSpace, error)
	VerifyDimension(space *model.EmbeddingSpace) error
	DeleteSpace(modelName string) error
	ChangeIndexStrategy(ctx context.Context, modelName string, strategy model.IndexStrategy, params map[string]interface{}) (*model.EmbeddingSpace, error)
}

// SpacesDBHandler manages the embedding space registry and the per space
// partition tables.
type SpacesDBHandler struct {
	db *helper.Database
}

// NewSpacesDBHandler creates a new spaces database handler.
// It initializes the database connection and loads space-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewSpacesDBHandler(db *helper.Database, force bool) (*SpacesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	spacesDbHandler := &SpacesDBHandler{
		db: db,
	}

	err := loadSql.LoadSpacesSql(spacesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load spaces sql", err)
	}

	err = spacesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized SpacesDBHandler")

	return spacesDbHandler, nil
}

// CreateTable creates the 'embedding_spaces' registry table in the database.
// If the table already exists, it does not create it again.
func (h *SpacesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_spaces();`)
	if err != nil {
		log.Panicf("error initializing embedding_spaces table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table embedding_spaces")

	return nil
}

// CreateSpace registers an embedding space and creates its partition table.
// Calling it again with the same model and dimension returns the existing
// space, a conflicting dimension is a configuration error.
func (h *SpacesDBHandler) CreateSpace(modelName string, dimension int) (*model.EmbeddingSpace, error) {
	if modelName == "" {
		return nil, &model.ConfigurationError{Reason: "space model name is empty"}
	}
	if dimension <= 0 {
		return nil, &model.ConfigurationError{Reason: fmt.Sprintf("space %s has non-positive dimension %d", modelName, dimension)}
	}

	existing, err := h.SelectSpace(modelName)
	var notFound *model.NotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, err
	}
	if existing != nil {
		if existing.Dimension != dimension {
			return nil, &model.ConfigurationError{
				Reason: fmt.Sprintf("space %s already registered with dimension %d, requested %d", modelName, existing.Dimension, dimension),
			}
		}
		if err := h.VerifyDimension(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	space := &model.EmbeddingSpace{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_space($1, $2, $3)`,
		modelName,
		dimension,
		model.SpaceTableName(modelName, dimension),
	)

	var strategy string
	err = row.Scan(
		&space.ID,
		&space.Model,
		&space.Dimension,
		&space.Table,
		&strategy,
		&space.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// A concurrent CreateSpace won the insert, fall back to its space.
		retry, retryErr := h.SelectSpace(modelName)
		if retryErr != nil {
			return nil, retryErr
		}
		if retry.Dimension != dimension {
			return nil, &model.ConfigurationError{
				Reason: fmt.Sprintf("space %s already registered with dimension %d, requested %d", modelName, retry.Dimension, dimension),
			}
		}
		return retry, nil
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	space.IndexStrategy = model.IndexStrategy(strategy)

	if err := h.VerifyDimension(space); err != nil {
		return nil, err
	}

	h.db.Logger.Info("Created embedding space", "model", space.Model, "dimension", space.Dimension, "table", space.Table)

	return space, nil
}

// SelectSpace retrieves a space by model name.
func (h *SpacesDBHandler) SelectSpace(modelName string) (*model.EmbeddingSpace, error) {
	space := &model.EmbeddingSpace{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_space($1)`,
		modelName,
	)

	var strategy string
	err := row.Scan(
		&space.ID,
		&space.Model,
		&space.Dimension,
		&space.Table,
		&strategy,
		&space.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "embedding space", Name: modelName}
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	space.IndexStrategy = model.IndexStrategy(strategy)

	return space, nil
}

// SelectAllSpaces retrieves all registered spaces ordered by id.
func (h *SpacesDBHandler) SelectAllSpaces() ([]*model.EmbeddingSpace, error) {
	rows, err := h.db.Instance.Query(`SELECT * FROM select_all_spaces()`)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var spaces []*model.EmbeddingSpace
	for rows.Next() {
		space := &model.EmbeddingSpace{}
		var strategy string
		err := rows.Scan(
			&space.ID,
			&space.Model,
			&space.Dimension,
			&space.Table,
			&strategy,
			&space.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		space.IndexStrategy = model.IndexStrategy(strategy)

		spaces = append(spaces, space)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return spaces, nil
}

// VerifyDimension checks the vector column of the partition table against
// the registry. The pgvector type modifier stores the raw dimension.
func (h *SpacesDBHandler) VerifyDimension(space *model.EmbeddingSpace) error {
	var columnDimension sql.NullInt64
	err := h.db.Instance.QueryRow(
		`SELECT select_space_table_dimension($1)`,
		space.Table,
	).Scan(&columnDimension)
	if err != nil {
		return helper.NewError("scan", err)
	}

	if !columnDimension.Valid {
		return &model.ConfigurationError{Reason: fmt.Sprintf("partition table %s for space %s does not exist", space.Table, space.Model)}
	}
	if int(columnDimension.Int64) != space.Dimension {
		return &model.DimensionMismatchError{
			Context: fmt.Sprintf("partition table %s", space.Table),
			Want:    space.Dimension,
			Got:     int(columnDimension.Int64),
		}
	}

	return nil
}

// DeleteSpace removes a space and drops its partition table.
func (h *SpacesDBHandler) DeleteSpace(modelName string) error {
	var dropped bool
	err := h.db.Instance.QueryRow(
		`SELECT delete_space($1)`,
		modelName,
	).Scan(&dropped)
	if err != nil {
		return helper.NewError("scan", err)
	}
	if !dropped {
		return &model.NotFoundError{Kind: "embedding space", Name: modelName}
	}

	h.db.Logger.Info("Deleted embedding space", "model", modelName)

	return nil
}
