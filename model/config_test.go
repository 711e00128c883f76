package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSearchConfig(t *testing.T) {
	t.Run("Returns correct default values", func(t *testing.T) {
		config := DefaultSearchConfig()

		assert.Equal(t, 5, config.TopK, "Default TopK should be 5")
		assert.Equal(t, 0.0, config.DistanceThreshold, "Threshold should be disabled by default")
		assert.Equal(t, "", config.Category, "No category filter by default")
		assert.Equal(t, "", config.Language, "No language filter by default")
		assert.Equal(t, 0, config.Probes, "Probes should use the index default")
	})

	t.Run("Can be modified after creation", func(t *testing.T) {
		config := DefaultSearchConfig()

		config.TopK = 10
		config.DistanceThreshold = 0.8
		config.Category = "tech"

		assert.Equal(t, 10, config.TopK)
		assert.Equal(t, 0.8, config.DistanceThreshold)
		assert.Equal(t, "tech", config.Category)
	})
}

func TestSearchConfig_Filtered(t *testing.T) {
	t.Run("Unfiltered by default", func(t *testing.T) {
		config := DefaultSearchConfig()

		assert.False(t, config.Filtered())
	})

	t.Run("Filtered with category", func(t *testing.T) {
		config := DefaultSearchConfig()
		config.Category = "tech"

		assert.True(t, config.Filtered())
	})

	t.Run("Filtered with language", func(t *testing.T) {
		config := DefaultSearchConfig()
		config.Language = "ja"

		assert.True(t, config.Filtered())
	})
}
