package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mizutome/ragbench/model"
	"google.golang.org/genai"
)

// GeminiConfig configures the Google Gemini backend.
type GeminiConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	GenerationModel    string
	Timeout            time.Duration
	Retry              RetryConfig
}

// DefaultGeminiConfig reads GEMINI_API_KEY and falls back to
// text-embedding-004 for embeddings and gemini-2.5-flash for generation.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		APIKey:             os.Getenv("GEMINI_API_KEY"),
		EmbeddingModel:     "text-embedding-004",
		EmbeddingDimension: 768,
		GenerationModel:    "gemini-2.5-flash",
		Timeout:            120 * time.Second,
		Retry:              DefaultRetryConfig(),
	}
}

func newGeminiClient(ctx context.Context, config GeminiConfig) (*genai.Client, error) {
	if config.APIKey == "" {
		return nil, &model.ConfigurationError{Reason: "GEMINI_API_KEY is not set"}
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return client, nil
}

func classifyGeminiError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.TimeoutError{Backend: "google", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &model.TimeoutError{Backend: "google", Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return &model.RateLimitError{Backend: "google", Err: err}
		case apiErr.Code >= 500:
			return &model.BackendUnavailableError{Backend: "google", Err: err}
		}
		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &model.BackendUnavailableError{Backend: "google", Err: err}
	}

	return err
}

func taskTypeFor(purpose Purpose) string {
	if purpose == PurposeQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// GeminiEmbedder embeds through the Gemini embedding API. Documents and
// queries are embedded with their matching task type.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	retry     RetryConfig
}

// NewGeminiEmbedder creates the embedder for the configured model. It fails
// with a ConfigurationError when no API key is set.
func NewGeminiEmbedder(ctx context.Context, config GeminiConfig) (*GeminiEmbedder, error) {
	client, err := newGeminiClient(ctx, config)
	if err != nil {
		return nil, err
	}

	return &GeminiEmbedder{
		client:    client,
		model:     config.EmbeddingModel,
		dimension: config.EmbeddingDimension,
		retry:     config.Retry,
	}, nil
}

func (e *GeminiEmbedder) Name() string {
	return "google"
}

func (e *GeminiEmbedder) Model() string {
	return e.model
}

func (e *GeminiEmbedder) Dimension() int {
	return e.dimension
}

// Embed returns the embedding for one text. The configured dimension is
// requested explicitly so the API cannot silently widen the vectors.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &model.InvalidInputError{Reason: "text to embed is empty"}
	}

	config := &genai.EmbedContentConfig{
		TaskType: taskTypeFor(purpose),
	}
	if e.dimension > 0 {
		config.OutputDimensionality = genai.Ptr(int32(e.dimension))
	}

	var resp *genai.EmbedContentResponse
	err := withRetry(ctx, e.retry, func() error {
		var callErr error
		resp, callErr = e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), config)
		return classifyGeminiError(callErr)
	})
	if err != nil {
		return nil, err
	}

	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini returned no embedding data")
	}

	embedding := resp.Embeddings[0].Values
	if len(embedding) != e.dimension {
		return nil, &model.DimensionMismatchError{
			Context: fmt.Sprintf("gemini model %s", e.model),
			Want:    e.dimension,
			Got:     len(embedding),
		}
	}

	return embedding, nil
}

// CheckHealth fetches the configured model's metadata.
func (e *GeminiEmbedder) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := e.client.Models.Get(ctx, e.model, nil); err != nil {
		return classifyGeminiError(err)
	}
	return nil
}

// GeminiGenerator generates answers through the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	prompt *PromptTemplate
	retry  RetryConfig
}

// NewGeminiGenerator creates the generator for the configured model. It fails
// with a ConfigurationError when no API key is set.
func NewGeminiGenerator(ctx context.Context, config GeminiConfig) (*GeminiGenerator, error) {
	client, err := newGeminiClient(ctx, config)
	if err != nil {
		return nil, err
	}

	return &GeminiGenerator{
		client: client,
		model:  config.GenerationModel,
		prompt: NewPromptTemplate(),
		retry:  config.Retry,
	}, nil
}

func (g *GeminiGenerator) Name() string {
	return "gemini"
}

// Generate answers the question grounded on the context documents.
func (g *GeminiGenerator) Generate(ctx context.Context, question string, contexts []*model.RankedDocument, maxTokens int) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", &model.InvalidInputError{Reason: "question is empty"}
	}

	var config *genai.GenerateContentConfig
	if maxTokens > 0 {
		config = &genai.GenerateContentConfig{
			MaxOutputTokens: int32(maxTokens),
		}
	}

	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, g.retry, func() error {
		var callErr error
		resp, callErr = g.client.Models.GenerateContent(ctx, g.model, genai.Text(g.prompt.Render(question, contexts)), config)
		return classifyGeminiError(callErr)
	})
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", fmt.Errorf("gemini returned no answer")
	}

	return answer, nil
}

// CheckHealth fetches the configured model's metadata.
func (g *GeminiGenerator) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := g.client.Models.Get(ctx, g.model, nil); err != nil {
		return classifyGeminiError(err)
	}
	return nil
}
