package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"time"

	"github.com/mizutome/ragbench"
	"github.com/mizutome/ragbench/core/backend"
	"github.com/mizutome/ragbench/core/comparison"
	"github.com/mizutome/ragbench/helper"
	"github.com/mizutome/ragbench/model"
)

// hashEmbedder is a deterministic offline embedder. Tokens are hashed into
// buckets, so texts sharing words land close to each other. Good enough to
// demonstrate the retrieval flow without any model endpoint.
type hashEmbedder struct {
	dimension int
}

func (e *hashEmbedder) Name() string {
	return "hash"
}

func (e *hashEmbedder) Model() string {
	return "token-hash"
}

func (e *hashEmbedder) Dimension() int {
	return e.dimension
}

func (e *hashEmbedder) Embed(ctx context.Context, text string, purpose backend.Purpose) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &model.InvalidInputError{Reason: "text to embed is empty"}
	}
	embedding := make([]float32, e.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(token, ".,!?;:\"'")))
		embedding[h.Sum32()%uint32(e.dimension)]++
	}
	return embedding, nil
}

// extractiveGenerator answers by quoting the retrieved passages, so the
// example runs without a language model endpoint.
type extractiveGenerator struct{}

func (g *extractiveGenerator) Name() string {
	return "extract"
}

func (g *extractiveGenerator) Generate(ctx context.Context, question string, contexts []*model.RankedDocument, maxTokens int) (string, error) {
	if len(contexts) == 0 {
		return "", &model.InvalidInputError{Reason: "no contexts to answer from"}
	}
	lines := make([]string, 0, len(contexts))
	for _, ranked := range contexts {
		lines = append(lines, fmt.Sprintf("- %s", ranked.Document.Content))
	}
	return fmt.Sprintf("The most relevant passages for %q:\n%s", question, strings.Join(lines, "\n")), nil
}

var passages = []struct {
	content  string
	category string
}{
	{"Goroutines are lightweight threads managed by the Go runtime.", "concurrency"},
	{"Channels provide typed communication between goroutines.", "concurrency"},
	{"The select statement waits on multiple channel operations at once.", "concurrency"},
	{"Interfaces in Go are satisfied implicitly, without any declaration.", "types"},
	{"The garbage collector runs concurrently with the program.", "runtime"},
	{"Slices are descriptors over backing arrays with a length and a capacity.", "types"},
}

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	b, err := ragbench.NewBench(dbConfig)
	if err != nil {
		log.Fatalf("Failed to create bench: %v", err)
	}
	defer b.Close()

	// One fully offline pattern: hashed embeddings plus extractive answers
	embedder := &hashEmbedder{dimension: 64}
	if _, err := b.CreateSpaceFor(embedder); err != nil {
		log.Fatalf("Failed to create embedding space: %v", err)
	}
	pattern, err := b.RegisterPattern(embedder, &extractiveGenerator{})
	if err != nil {
		log.Fatalf("Failed to register pattern: %v", err)
	}

	// Embed and insert the sample passages in one batch
	fmt.Println("Ingesting passages...")
	docs := make([]*model.Document, len(passages))
	for i, p := range passages {
		docs[i] = model.NewDocument(p.content, p.category, "en")
	}
	inserted, err := b.EmbedAndInsert(context.Background(), embedder, docs)
	if err != nil {
		log.Fatalf("Failed to embed and insert passages: %v", err)
	}
	fmt.Printf("Inserted %d passages into %s\n", inserted, model.SpaceTableName(embedder.Name(), embedder.Dimension()))

	// Retrieval only
	query := "How do goroutines communicate?"
	fmt.Printf("\nQuerying: %s\n", query)

	config := model.DefaultSearchConfig()
	config.TopK = 3

	result, err := b.Search(context.Background(), pattern.ID, query, config)
	if err != nil {
		log.Fatalf("Failed to search: %v", err)
	}

	fmt.Printf("\nFound %d results (%d candidates in %s):\n",
		len(result.Documents), result.Provenance.CandidateCount, result.Provenance.Table)
	for _, ranked := range result.Documents {
		fmt.Printf("\n--- Rank %d ---\n", ranked.Rank)
		fmt.Printf("Distance: %.4f\n", ranked.Distance)
		fmt.Printf("Category: %s\n", ranked.Document.Category())
		fmt.Printf("Content: %s\n", ranked.Document.Content)
	}

	// Full pipeline: retrieval plus generation through the same pattern
	outcome, err := b.Ask(context.Background(), pattern.ID, query, comparison.DefaultSessionConfig())
	if err != nil {
		log.Fatalf("Failed to ask: %v", err)
	}

	fmt.Printf("\nAnswer from pattern %s (embed %v, search %v, generate %v):\n%s\n",
		outcome.PatternID,
		outcome.Timing.Embed.Round(time.Millisecond),
		outcome.Timing.Search.Round(time.Millisecond),
		outcome.Timing.Generate.Round(time.Millisecond),
		outcome.Answer)

	fmt.Println("\nBasic example completed successfully!")
}
