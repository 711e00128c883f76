package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mizutome/ragbench/helper"
	"github.com/mizutome/ragbench/model"
)

// ChangeIndexStrategy rebuilds the vector index of one space's partition
// table and records the strategy in the registry.
// params: optional parameters for index creation
//   - For HNSW: "m" (int, default 16), "ef_construction" (int, default 64)
//   - For IVFFlat: "lists" (int, default 100)
//
// The ivfflat strategy prunes clusters before ranking, searches against it
// carry the strategy caveat in their provenance.
func (h *SpacesDBHandler) ChangeIndexStrategy(ctx context.Context, modelName string, strategy model.IndexStrategy, params map[string]interface{}) (*model.EmbeddingSpace, error) {
	if !strategy.Valid() {
		return nil, helper.NewError("change index strategy", fmt.Errorf("unsupported index strategy: %s (use 'none', 'hnsw' or 'ivfflat')", strategy))
	}

	space, err := h.SelectSpace(modelName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	indexName := fmt.Sprintf("idx_%s_embedding", space.Table)

	// Drop existing index
	_, err = h.db.Instance.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, indexName))
	if err != nil {
		return nil, helper.NewError("drop index", err)
	}

	h.db.Logger.Info("Dropped existing vector index", "table", space.Table)

	// Create new index based on strategy
	var createIndexSQL string

	switch strategy {
	case model.IndexHNSW:
		m := 16
		efConstruction := 64

		if mVal, ok := params["m"].(int); ok {
			m = mVal
		}
		if efVal, ok := params["ef_construction"].(int); ok {
			efConstruction = efVal
		}

		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			indexName, space.Table, m, efConstruction,
		)

	case model.IndexIVFFlat:
		lists := 100
		if listsVal, ok := params["lists"].(int); ok {
			lists = listsVal
		}

		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			indexName, space.Table, lists,
		)

	case model.IndexNone:
		// No index, searches run exact sequential scans.
	}

	if createIndexSQL != "" {
		_, err = h.db.Instance.ExecContext(ctx, createIndexSQL)
		if err != nil {
			return nil, helper.NewError("create index", err)
		}
	}

	var updated bool
	err = h.db.Instance.QueryRowContext(ctx,
		`SELECT update_space_index($1, $2)`,
		modelName,
		strategy.String(),
	).Scan(&updated)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	if !updated {
		return nil, &model.NotFoundError{Kind: "embedding space", Name: modelName}
	}
	space.IndexStrategy = strategy

	h.db.Logger.Info(fmt.Sprintf("Changed index strategy to %s with params: %v", strategy, params), "table", space.Table)

	return space, nil
}
