package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexStrategy(t *testing.T) {
	t.Run("Valid accepts supported strategies", func(t *testing.T) {
		assert.True(t, IndexNone.Valid())
		assert.True(t, IndexIVFFlat.Valid())
		assert.True(t, IndexHNSW.Valid())
	})

	t.Run("Valid rejects unknown strategies", func(t *testing.T) {
		assert.False(t, IndexStrategy("flat").Valid())
		assert.False(t, IndexStrategy("").Valid())
	})

	t.Run("Only ivfflat is clustered", func(t *testing.T) {
		assert.True(t, IndexIVFFlat.Clustered(), "ivfflat prunes clusters before ranking")
		assert.False(t, IndexNone.Clustered())
		assert.False(t, IndexHNSW.Clustered())
	})
}

func TestEmbeddingSpace_SpaceID(t *testing.T) {
	t.Run("Joins model and dimension", func(t *testing.T) {
		space := &EmbeddingSpace{Model: "google", Dimension: 768}

		assert.Equal(t, "google-768", space.SpaceID())
	})
}

func TestSpaceTableName(t *testing.T) {
	t.Run("Builds partition name from model and dimension", func(t *testing.T) {
		assert.Equal(t, "documents_google_768", SpaceTableName("google", 768))
		assert.Equal(t, "documents_ollama_1024", SpaceTableName("ollama", 1024))
	})

	t.Run("Sanitizes unsafe identifier characters", func(t *testing.T) {
		assert.Equal(t, "documents_text_embedding_004_768", SpaceTableName("text-embedding-004", 768))
		assert.Equal(t, "documents_all_minilm_l6_v2_384", SpaceTableName("all-MiniLM.L6 v2", 384))
	})
}

func TestProvenance_CaveatMessage(t *testing.T) {
	t.Run("Empty without caveat", func(t *testing.T) {
		p := &Provenance{IndexStrategy: IndexHNSW}

		assert.Equal(t, "", p.CaveatMessage())
	})

	t.Run("Names the strategy when set", func(t *testing.T) {
		p := &Provenance{IndexStrategy: IndexIVFFlat, StrategyCaveat: true}

		msg := p.CaveatMessage()

		assert.Contains(t, msg, "ivfflat")
		assert.Contains(t, msg, "prunes clusters")
	})
}

func TestComparisonRun_Outcome(t *testing.T) {
	t.Run("Finds outcome by pattern id", func(t *testing.T) {
		run := &ComparisonRun{
			Outcomes: []*PatternOutcome{
				{PatternID: "google+gemini", Answer: "first"},
				{PatternID: "ollama+llama", Answer: "second"},
			},
		}

		outcome := run.Outcome("ollama+llama")

		assert.NotNil(t, outcome)
		assert.Equal(t, "second", outcome.Answer)
	})

	t.Run("Returns nil for unknown pattern", func(t *testing.T) {
		run := &ComparisonRun{Outcomes: []*PatternOutcome{{PatternID: "google+gemini"}}}

		assert.Nil(t, run.Outcome("missing"))
	})
}

func TestPatternOutcome_Succeeded(t *testing.T) {
	t.Run("Complete outcome succeeds", func(t *testing.T) {
		outcome := &PatternOutcome{PatternID: "google+gemini", Answer: "done"}

		assert.True(t, outcome.Succeeded())
		assert.Equal(t, "", outcome.FailureMessage())
	})

	t.Run("Degraded or failed outcomes do not", func(t *testing.T) {
		assert.False(t, (&PatternOutcome{RetrievalOnly: true}).Succeeded())
		assert.False(t, (&PatternOutcome{GenerationCancelled: true}).Succeeded())

		failed := &PatternOutcome{Err: &InvalidPatternError{PatternID: "x+y", Reason: "no space"}}
		assert.False(t, failed.Succeeded())
		assert.Contains(t, failed.FailureMessage(), "invalid")
	})
}
