package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mizutome/ragbench/model"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI backend. A BaseURL override points the
// client at any OpenAI compatible endpoint.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	ChatModel          string
	Timeout            time.Duration
	Retry              RetryConfig
}

// DefaultOpenAIConfig reads OPENAI_API_KEY and OPENAI_BASE_URL and falls back
// to text-embedding-3-small for embeddings and gpt-4o-mini for generation.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		APIKey:             os.Getenv("OPENAI_API_KEY"),
		BaseURL:            os.Getenv("OPENAI_BASE_URL"),
		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingDimension: 1536,
		ChatModel:          "gpt-4o-mini",
		Timeout:            120 * time.Second,
		Retry:              DefaultRetryConfig(),
	}
}

func newOpenAIClient(config OpenAIConfig) (*openai.Client, error) {
	if config.APIKey == "" {
		return nil, &model.ConfigurationError{Reason: "OPENAI_API_KEY is not set"}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	return openai.NewClientWithConfig(clientConfig), nil
}

func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.TimeoutError{Backend: "openai", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &model.TimeoutError{Backend: "openai", Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return &model.RateLimitError{Backend: "openai", Err: err}
		case http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return &model.BackendUnavailableError{Backend: "openai", Err: err}
		}
		return err
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &model.BackendUnavailableError{Backend: "openai", Err: err}
	}

	return err
}

// OpenAIEmbedder embeds through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	retry     RetryConfig
}

// NewOpenAIEmbedder creates the embedder for the configured model. It fails
// with a ConfigurationError when no API key is set.
func NewOpenAIEmbedder(config OpenAIConfig) (*OpenAIEmbedder, error) {
	client, err := newOpenAIClient(config)
	if err != nil {
		return nil, err
	}

	return &OpenAIEmbedder{
		client:    client,
		model:     config.EmbeddingModel,
		dimension: config.EmbeddingDimension,
		retry:     config.Retry,
	}, nil
}

func (e *OpenAIEmbedder) Name() string {
	return "openai"
}

func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Embed returns the embedding for one text. The configured dimension is
// requested explicitly so the API cannot silently widen the vectors.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &model.InvalidInputError{Reason: "text to embed is empty"}
	}

	request := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	if e.dimension > 0 {
		request.Dimensions = e.dimension
	}

	var resp openai.EmbeddingResponse
	err := withRetry(ctx, e.retry, func() error {
		var callErr error
		resp, callErr = e.client.CreateEmbeddings(ctx, request)
		return classifyOpenAIError(callErr)
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embedding data")
	}

	embedding := resp.Data[0].Embedding
	if len(embedding) != e.dimension {
		return nil, &model.DimensionMismatchError{
			Context: fmt.Sprintf("openai model %s", e.model),
			Want:    e.dimension,
			Got:     len(embedding),
		}
	}

	return embedding, nil
}

// CheckHealth lists the available models, the cheapest authenticated call.
func (e *OpenAIEmbedder) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := e.client.ListModels(ctx); err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}

// OpenAIGenerator generates answers through the OpenAI chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	prompt *PromptTemplate
	retry  RetryConfig
}

// NewOpenAIGenerator creates the generator for the configured chat model. It
// fails with a ConfigurationError when no API key is set.
func NewOpenAIGenerator(config OpenAIConfig) (*OpenAIGenerator, error) {
	client, err := newOpenAIClient(config)
	if err != nil {
		return nil, err
	}

	return &OpenAIGenerator{
		client: client,
		model:  config.ChatModel,
		prompt: NewPromptTemplate(),
		retry:  config.Retry,
	}, nil
}

func (g *OpenAIGenerator) Name() string {
	return "openai"
}

// Generate answers the question grounded on the context documents.
func (g *OpenAIGenerator) Generate(ctx context.Context, question string, contexts []*model.RankedDocument, maxTokens int) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", &model.InvalidInputError{Reason: "question is empty"}
	}

	request := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: g.prompt.Render(question, contexts),
			},
		},
	}
	if maxTokens > 0 {
		request.MaxTokens = maxTokens
	}

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, g.retry, func() error {
		var callErr error
		resp, callErr = g.client.CreateChatCompletion(ctx, request)
		return classifyOpenAIError(callErr)
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// CheckHealth lists the available models.
func (g *OpenAIGenerator) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := g.client.ListModels(ctx); err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}
