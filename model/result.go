package model

import (
	"fmt"
	"time"
)

// RankedDocument is one search hit. Rank is 1-based over ascending cosine
// distance, ties broken by document id ascending. Distance is the raw
// cosine distance in [0,2], never a derived similarity, so results stay
// comparable across patterns.
type RankedDocument struct {
	Document *Document `json:"document"`
	Distance float64   `json:"distance"`
	Rank     int       `json:"rank"`
}

// Provenance records where and how a search ran.
type Provenance struct {
	Table          string        `json:"table"`
	EmbeddingModel string        `json:"embedding_model"`
	Dimension      int           `json:"dimension"`
	IndexStrategy  IndexStrategy `json:"index_strategy"`
	RequestedTopK  int           `json:"requested_top_k"`

	// CandidateCount is the partition size before metadata filtering,
	// FilteredCount the rows matching the metadata predicates. Reported
	// separately so callers can tell over-aggressive filtering from a
	// genuinely sparse corpus.
	CandidateCount int `json:"candidate_count"`
	FilteredCount  int `json:"filtered_count"`
	ReturnedCount  int `json:"returned_count"`

	// ThresholdDiscarded counts results dropped by the distance threshold,
	// with one human readable reason per dropped result.
	ThresholdDiscarded int      `json:"threshold_discarded,omitempty"`
	Discarded          []string `json:"discarded,omitempty"`

	// StrategyCaveat is set when the search ran against a partition bound
	// to the approximate clustered strategy, which may prune matching
	// documents before ranking. Informational, never an error.
	StrategyCaveat bool `json:"strategy_caveat"`
	Probes         int  `json:"probes,omitempty"`
}

// CaveatMessage explains the strategy caveat when it applies.
func (p *Provenance) CaveatMessage() string {
	if !p.StrategyCaveat {
		return ""
	}
	return fmt.Sprintf(
		"index strategy %s prunes clusters before ranking and may miss matching documents on small data; raise probes or switch the strategy to verify",
		p.IndexStrategy,
	)
}

// SearchResult is the ranked outcome of one similarity search.
type SearchResult struct {
	Query      string            `json:"query"`
	Documents  []*RankedDocument `json:"documents"`
	Provenance Provenance        `json:"provenance"`

	EmbedDuration  time.Duration `json:"embed_duration"`
	SearchDuration time.Duration `json:"search_duration"`
}
