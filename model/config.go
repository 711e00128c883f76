package model

// SearchConfig represents configuration for one similarity search
type SearchConfig struct {
	// TopK is the maximum number of ranked results requested.
	TopK int `json:"top_k"`

	// DistanceThreshold discards results whose cosine distance exceeds it
	// after ranking. Zero disables the threshold.
	DistanceThreshold float64 `json:"distance_threshold,omitempty"`

	// Metadata filtering, equality on the category and lang keys.
	// Empty means no filtering on that key.
	Category string `json:"category,omitempty"`
	Language string `json:"language,omitempty"`

	// Probes overrides ivfflat.probes for this search. Zero keeps the
	// server default. Ignored by the other index strategies.
	Probes int `json:"probes,omitempty"`
}

// DefaultSearchConfig returns a sensible default configuration
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		TopK:              5,
		DistanceThreshold: 0,
		Category:          "",
		Language:          "",
		Probes:            0,
	}
}

// Filtered reports whether any metadata predicate is set.
func (c *SearchConfig) Filtered() bool {
	return c.Category != "" || c.Language != ""
}
