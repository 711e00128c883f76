package model

import (
	"fmt"
	"strings"
	"time"
)

// IndexStrategy selects the vector index bound to one storage partition.
type IndexStrategy string

const (
	// IndexNone runs exact sequential scans.
	IndexNone IndexStrategy = "none"
	// IndexIVFFlat is the approximate clustered strategy. Under an
	// ordering+limit query it prunes clusters before the global ranking, so
	// on small or low-coverage data it can return fewer or zero matches
	// where the other strategies return results.
	IndexIVFFlat IndexStrategy = "ivfflat"
	// IndexHNSW is the graph based strategy.
	IndexHNSW IndexStrategy = "hnsw"
)

// Valid reports whether the strategy is one of the supported values.
func (s IndexStrategy) Valid() bool {
	switch s {
	case IndexNone, IndexIVFFlat, IndexHNSW:
		return true
	}
	return false
}

// Clustered reports whether the strategy prunes clusters before ranking.
// Search results from a clustered partition carry the strategy caveat.
func (s IndexStrategy) Clustered() bool {
	return s == IndexIVFFlat
}

func (s IndexStrategy) String() string {
	return string(s)
}

// EmbeddingSpace binds one embedding model to a fixed dimension and one
// storage partition. Distinct spaces never share a partition and the
// dimension is enforced on every insert.
type EmbeddingSpace struct {
	ID            int           `json:"id"`
	Model         string        `json:"model"`
	Dimension     int           `json:"dimension"`
	Table         string        `json:"table"`
	IndexStrategy IndexStrategy `json:"index_strategy"`
	CreatedAt     time.Time     `json:"created_at"`
}

// SpaceID returns the model-dimension identifier, e.g. "google-768".
func (s *EmbeddingSpace) SpaceID() string {
	return fmt.Sprintf("%s-%d", s.Model, s.Dimension)
}

// SpaceTableName derives the partition table name for a model and dimension,
// e.g. "documents_google_768". The model is lowercased and any character
// outside [a-z0-9] becomes an underscore to keep the identifier safe.
func SpaceTableName(model string, dimension int) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, model)

	return fmt.Sprintf("documents_%s_%d", slug, dimension)
}
