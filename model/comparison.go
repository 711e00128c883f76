package model

import (
	"time"

	"github.com/google/uuid"
)

// StageTimings holds wall-clock time per pipeline stage of one pattern.
type StageTimings struct {
	Embed    time.Duration `json:"embed"`
	Search   time.Duration `json:"search"`
	Generate time.Duration `json:"generate"`
	Total    time.Duration `json:"total"`
}

// PatternOutcome is the result of one pattern inside a comparison run:
// either a full retrieval+generation result, a degraded retrieval-only
// result, or a typed failure. A failed pattern never hides behind an empty
// result.
type PatternOutcome struct {
	PatternID string        `json:"pattern_id"`
	Result    *SearchResult `json:"result,omitempty"`
	Answer    string        `json:"answer,omitempty"`
	Timing    StageTimings  `json:"timing"`

	// GenerationCancelled marks a pipeline whose retrieval finished before
	// the run was cancelled; the partial result is preserved.
	GenerationCancelled bool `json:"generation_cancelled,omitempty"`

	// RetrievalOnly marks a degraded outcome where generation timed out
	// but retrieval succeeded.
	RetrievalOnly bool `json:"retrieval_only,omitempty"`

	Err error `json:"-"`
}

// Succeeded reports whether the pattern produced a complete answer.
func (o *PatternOutcome) Succeeded() bool {
	return o.Err == nil && !o.GenerationCancelled && !o.RetrievalOnly
}

// FailureMessage renders the recorded failure, or an empty string.
func (o *PatternOutcome) FailureMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// ComparisonRun aggregates one query across patterns. Outcomes keep the
// requested pattern order regardless of completion order.
type ComparisonRun struct {
	ID        uuid.UUID         `json:"id"`
	Query     string            `json:"query"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Outcomes  []*PatternOutcome `json:"outcomes"`
}

// Outcome returns the outcome for a pattern id, or nil if the pattern was
// not part of the run.
func (r *ComparisonRun) Outcome(patternID string) *PatternOutcome {
	for _, o := range r.Outcomes {
		if o != nil && o.PatternID == patternID {
			return o
		}
	}
	return nil
}
