package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/mizutome/ragbench/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestDefaultGeminiConfig(t *testing.T) {
	t.Run("Reads the api key from the environment", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")
		config := DefaultGeminiConfig()
		assert.Equal(t, "test-key", config.APIKey, "expected api key from environment")
		assert.Equal(t, "text-embedding-004", config.EmbeddingModel, "expected default embedding model")
		assert.Equal(t, 768, config.EmbeddingDimension, "expected default embedding dimension")
		assert.Equal(t, "gemini-2.5-flash", config.GenerationModel, "expected default generation model")
	})
}

func TestNewGeminiBackends(t *testing.T) {
	t.Run("Fails without an api key", func(t *testing.T) {
		config := DefaultGeminiConfig()
		config.APIKey = ""

		_, err := NewGeminiEmbedder(context.Background(), config)
		var configErr *model.ConfigurationError
		require.ErrorAs(t, err, &configErr, "expected configuration error for missing key")
		assert.Contains(t, err.Error(), "GEMINI_API_KEY", "expected variable name in error")

		_, err = NewGeminiGenerator(context.Background(), config)
		assert.ErrorAs(t, err, &configErr, "expected configuration error for missing key")
	})

	t.Run("Reports metadata", func(t *testing.T) {
		config := DefaultGeminiConfig()
		config.APIKey = "test-key"

		embedder, err := NewGeminiEmbedder(context.Background(), config)
		require.NoError(t, err, "error creating embedder")
		assert.Equal(t, "google", embedder.Name(), "expected backend name")
		assert.Equal(t, "text-embedding-004", embedder.Model(), "expected model name")
		assert.Equal(t, 768, embedder.Dimension(), "expected dimension")

		generator, err := NewGeminiGenerator(context.Background(), config)
		require.NoError(t, err, "error creating generator")
		assert.Equal(t, "gemini", generator.Name(), "expected generation side name")
	})

	t.Run("Rejects empty input without a network call", func(t *testing.T) {
		config := DefaultGeminiConfig()
		config.APIKey = "test-key"

		embedder, err := NewGeminiEmbedder(context.Background(), config)
		require.NoError(t, err, "error creating embedder")

		var invalidErr *model.InvalidInputError
		_, err = embedder.Embed(context.Background(), "   ", PurposeDocument)
		assert.ErrorAs(t, err, &invalidErr, "expected invalid input error for empty text")

		generator, err := NewGeminiGenerator(context.Background(), config)
		require.NoError(t, err, "error creating generator")

		_, err = generator.Generate(context.Background(), "", nil, 0)
		assert.ErrorAs(t, err, &invalidErr, "expected invalid input error for empty question")
	})
}

func TestTaskTypeFor(t *testing.T) {
	t.Run("Distinguishes document and query embeddings", func(t *testing.T) {
		assert.Equal(t, "RETRIEVAL_DOCUMENT", taskTypeFor(PurposeDocument), "expected document task type")
		assert.Equal(t, "RETRIEVAL_QUERY", taskTypeFor(PurposeQuery), "expected query task type")
	})
}

func TestClassifyGeminiError(t *testing.T) {
	t.Run("Passes nil through", func(t *testing.T) {
		assert.NoError(t, classifyGeminiError(nil), "expected nil for nil error")
	})

	t.Run("Maps api error code 429 to a rate limit error", func(t *testing.T) {
		err := classifyGeminiError(genai.APIError{Code: http.StatusTooManyRequests, Message: "quota exceeded"})
		var rateErr *model.RateLimitError
		assert.ErrorAs(t, err, &rateErr, "expected rate limit error for code 429")
	})

	t.Run("Maps api error codes 5xx to an unavailable error", func(t *testing.T) {
		err := classifyGeminiError(genai.APIError{Code: http.StatusServiceUnavailable, Message: "overloaded"})
		var unavailableErr *model.BackendUnavailableError
		assert.ErrorAs(t, err, &unavailableErr, "expected unavailable error for code 503")
	})

	t.Run("Passes other api errors through", func(t *testing.T) {
		cause := genai.APIError{Code: http.StatusNotFound, Message: "model not found"}
		err := classifyGeminiError(cause)

		var rateErr *model.RateLimitError
		var unavailableErr *model.BackendUnavailableError
		assert.NotErrorAs(t, err, &rateErr, "expected no rate limit classification for code 404")
		assert.NotErrorAs(t, err, &unavailableErr, "expected no unavailable classification for code 404")
	})

	t.Run("Maps wrapped api errors", func(t *testing.T) {
		err := classifyGeminiError(fmt.Errorf("embedding call: %w", genai.APIError{Code: http.StatusBadGateway}))
		var unavailableErr *model.BackendUnavailableError
		assert.ErrorAs(t, err, &unavailableErr, "expected unavailable error behind wrapping")
	})

	t.Run("Maps deadline errors to a timeout error", func(t *testing.T) {
		err := classifyGeminiError(fmt.Errorf("call: %w", context.DeadlineExceeded))
		var timeoutErr *model.TimeoutError
		assert.ErrorAs(t, err, &timeoutErr, "expected timeout error for exceeded deadline")
	})

	t.Run("Maps transport errors to an unavailable error", func(t *testing.T) {
		err := classifyGeminiError(&url.Error{Op: "Post", URL: "https://generativelanguage.googleapis.com", Err: fmt.Errorf("connection refused")})
		var unavailableErr *model.BackendUnavailableError
		assert.ErrorAs(t, err, &unavailableErr, "expected unavailable error for transport failure")
	})
}
