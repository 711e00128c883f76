package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/mizutome/ragbench/helper"
	"github.com/mizutome/ragbench/model"
)

// MiniLMConfig configures the in-process sentence transformer backend.
type MiniLMConfig struct {
	ModelName    string
	OnnxFilePath string
	Dimension    int
}

// DefaultMiniLMConfig uses the all-MiniLM-L6-v2 model which produces
// 384-dimensional embeddings.
func DefaultMiniLMConfig() MiniLMConfig {
	return MiniLMConfig{
		ModelName:    "sentence-transformers/all-MiniLM-L6-v2",
		OnnxFilePath: "onnx/model.onnx",
		Dimension:    384,
	}
}

// MiniLMEmbedder embeds with a local sentence transformer model through a
// hugot pipeline. No network calls are made after the model is downloaded.
type MiniLMEmbedder struct {
	mu        sync.Mutex
	embed     func(text string) ([]float32, error)
	destroy   func() error
	model     string
	dimension int
}

// NewMiniLMEmbedder prepares the model (download if needed) and initializes
// a hugot session with the Go backend.
func NewMiniLMEmbedder(config MiniLMConfig) (*MiniLMEmbedder, error) {
	modelPath, err := helper.PrepareModel(config.ModelName, config.OnnxFilePath)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	pipelineConfig := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "minilm-embedder",
	}
	sentencePipeline, err := hugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	return &MiniLMEmbedder{
		embed: func(text string) ([]float32, error) {
			result, err := sentencePipeline.RunPipeline([]string{text})
			if err != nil {
				return nil, fmt.Errorf("failed to generate embedding: %w", err)
			}
			if len(result.Embeddings) == 0 {
				return nil, fmt.Errorf("no embedding generated")
			}
			return result.Embeddings[0], nil
		},
		destroy:   session.Destroy,
		model:     config.ModelName,
		dimension: config.Dimension,
	}, nil
}

func (e *MiniLMEmbedder) Name() string {
	return "minilm"
}

func (e *MiniLMEmbedder) Model() string {
	return e.model
}

func (e *MiniLMEmbedder) Dimension() int {
	return e.dimension
}

// Embed returns the embedding for one text. The pipeline is not safe for
// concurrent runs, calls are serialized.
func (e *MiniLMEmbedder) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &model.InvalidInputError{Reason: "text to embed is empty"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.embed == nil {
		return nil, &model.BackendUnavailableError{Backend: "minilm", Err: fmt.Errorf("embedder is closed")}
	}

	embedding, err := e.embed(text)
	if err != nil {
		return nil, &model.BackendUnavailableError{Backend: "minilm", Err: err}
	}

	if len(embedding) != e.dimension {
		return nil, &model.DimensionMismatchError{
			Context: fmt.Sprintf("minilm model %s", e.model),
			Want:    e.dimension,
			Got:     len(embedding),
		}
	}

	return embedding, nil
}

// CheckHealth reports whether the pipeline is still usable.
func (e *MiniLMEmbedder) CheckHealth(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.embed == nil {
		return &model.BackendUnavailableError{Backend: "minilm", Err: fmt.Errorf("embedder is closed")}
	}
	return nil
}

// Close destroys the hugot session. The embedder cannot be used afterwards.
func (e *MiniLMEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroy == nil {
		return nil
	}

	destroy := e.destroy
	e.embed = nil
	e.destroy = nil
	return destroy()
}
