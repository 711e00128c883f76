package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mizutome/ragbench/model"
)

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	GenerationModel    string
	Timeout            time.Duration
	Retry              RetryConfig
}

// DefaultOllamaConfig targets the instance named by OLLAMA_BASE_URL, or the
// local default port. The default models are mxbai-embed-large for
// embeddings and llama3.1 for generation.
func DefaultOllamaConfig() OllamaConfig {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return OllamaConfig{
		BaseURL:            baseURL,
		EmbeddingModel:     "mxbai-embed-large",
		EmbeddingDimension: 1024,
		GenerationModel:    "llama3.1",
		Timeout:            120 * time.Second,
		Retry:              DefaultRetryConfig(),
	}
}

// ollamaClient communicates with an Ollama instance over its HTTP API.
type ollamaClient struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
}

func newOllamaClient(config OllamaConfig) *ollamaClient {
	return &ollamaClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retry: config.Retry,
	}
}

// embeddingsRequest is the JSON body for POST /api/embeddings.
type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embeddingsResponse mirrors the JSON returned by POST /api/embeddings.
type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// generateRequest is the JSON body for POST /api/generate.
type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// generateResponse is the JSON returned by POST /api/generate (non-streaming).
type generateResponse struct {
	Response string `json:"response"`
}

func (c *ollamaClient) embeddings(ctx context.Context, embeddingModel string, prompt string) ([]float32, error) {
	var result embeddingsResponse
	err := withRetry(ctx, c.retry, func() error {
		return c.post(ctx, "/api/embeddings", embeddingsRequest{
			Model:  embeddingModel,
			Prompt: prompt,
		}, &result)
	})
	if err != nil {
		return nil, err
	}

	embedding := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

func (c *ollamaClient) generate(ctx context.Context, generationModel string, prompt string, numPredict int) (string, error) {
	request := generateRequest{
		Model:  generationModel,
		Prompt: prompt,
		Stream: false,
	}
	if numPredict > 0 {
		request.Options = map[string]interface{}{"num_predict": numPredict}
	}

	var result generateResponse
	err := withRetry(ctx, c.retry, func() error {
		return c.post(ctx, "/api/generate", request, &result)
	})
	if err != nil {
		return "", err
	}

	return result.Response, nil
}

// checkHealth probes GET /api/tags, the cheapest endpoint the server offers.
func (c *ollamaClient) checkHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &model.BackendUnavailableError{
			Backend: "ollama",
			Err:     fmt.Errorf("health check: unexpected status %d", resp.StatusCode),
		}
	}

	return nil
}

func (c *ollamaClient) post(ctx context.Context, path string, payload interface{}, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

func (c *ollamaClient) classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &model.TimeoutError{Backend: "ollama", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &model.TimeoutError{Backend: "ollama", Err: err}
	}
	return &model.BackendUnavailableError{Backend: "ollama", Err: err}
}

func (c *ollamaClient) classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &model.RateLimitError{
			Backend:    "ollama",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return &model.BackendUnavailableError{
			Backend: "ollama",
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := time.ParseDuration(header + "s")
	if err != nil {
		return 0
	}
	return seconds
}

// OllamaEmbedder embeds through a local Ollama instance.
type OllamaEmbedder struct {
	client    *ollamaClient
	model     string
	dimension int
}

// NewOllamaEmbedder creates the embedder for the configured model.
func NewOllamaEmbedder(config OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		client:    newOllamaClient(config),
		model:     config.EmbeddingModel,
		dimension: config.EmbeddingDimension,
	}
}

func (e *OllamaEmbedder) Name() string {
	return "ollama"
}

func (e *OllamaEmbedder) Model() string {
	return e.model
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

// Embed returns the embedding for one text. Ollama makes no distinction
// between document and query embeddings, the purpose is ignored.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &model.InvalidInputError{Reason: "text to embed is empty"}
	}

	embedding, err := e.client.embeddings(ctx, e.model, text)
	if err != nil {
		return nil, err
	}

	if len(embedding) != e.dimension {
		return nil, &model.DimensionMismatchError{
			Context: fmt.Sprintf("ollama model %s", e.model),
			Want:    e.dimension,
			Got:     len(embedding),
		}
	}

	return embedding, nil
}

// CheckHealth probes the Ollama endpoint.
func (e *OllamaEmbedder) CheckHealth(ctx context.Context) error {
	return e.client.checkHealth(ctx)
}

// OllamaGenerator generates answers through a local Ollama instance.
type OllamaGenerator struct {
	client *ollamaClient
	model  string
	prompt *PromptTemplate
}

// NewOllamaGenerator creates the generator for the configured model.
func NewOllamaGenerator(config OllamaConfig) *OllamaGenerator {
	return &OllamaGenerator{
		client: newOllamaClient(config),
		model:  config.GenerationModel,
		prompt: NewPromptTemplate(),
	}
}

func (g *OllamaGenerator) Name() string {
	return "llama"
}

// Generate answers the question grounded on the context documents.
func (g *OllamaGenerator) Generate(ctx context.Context, question string, contexts []*model.RankedDocument, maxTokens int) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", &model.InvalidInputError{Reason: "question is empty"}
	}

	answer, err := g.client.generate(ctx, g.model, g.prompt.Render(question, contexts), maxTokens)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(answer), nil
}

// CheckHealth probes the Ollama endpoint.
func (g *OllamaGenerator) CheckHealth(ctx context.Context) error {
	return g.client.checkHealth(ctx)
}
