package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/mizutome/ragbench"
	"github.com/mizutome/ragbench/core/backend"
	"github.com/mizutome/ragbench/core/comparison"
	"github.com/mizutome/ragbench/helper"
	"github.com/mizutome/ragbench/model"
)

var corpus = []struct {
	content  string
	category string
}{
	{"Goroutines are lightweight threads managed by the Go runtime, thousands of them fit into a single process.", "concurrency"},
	{"Channels provide typed communication between goroutines and synchronize them without explicit locks.", "concurrency"},
	{"The select statement waits on multiple channel operations and picks a ready one at random.", "concurrency"},
	{"Mutexes from the sync package protect shared state when channels are the wrong shape for the problem.", "concurrency"},
	{"The context package carries deadlines and cancellation signals across API boundaries.", "concurrency"},
	{"Interfaces in Go are satisfied implicitly, a type implements an interface by implementing its methods.", "types"},
	{"The garbage collector runs concurrently with the program and keeps pause times in the sub-millisecond range.", "runtime"},
	{"The race detector instruments memory accesses and reports unsynchronized reads and writes.", "tooling"},
}

func main() {
	// A .env next to the binary may carry GEMINI_API_KEY and OLLAMA_BASE_URL
	_ = godotenv.Load()

	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration
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

	ctx := context.Background()

	// Collect every backend that can be constructed. A missing API key or a
	// stopped Ollama instance drops its patterns instead of aborting the run.
	var embedders []backend.Embedder
	var generators []backend.Generator

	googleEmbedder, err := backend.NewGeminiEmbedder(ctx, backend.DefaultGeminiConfig())
	if err != nil {
		log.Printf("Warning: Gemini embedder unavailable: %v", err)
	} else {
		embedders = append(embedders, googleEmbedder)
	}
	embedders = append(embedders, backend.NewOllamaEmbedder(backend.DefaultOllamaConfig()))

	geminiGenerator, err := backend.NewGeminiGenerator(ctx, backend.DefaultGeminiConfig())
	if err != nil {
		log.Printf("Warning: Gemini generator unavailable: %v", err)
	} else {
		generators = append(generators, geminiGenerator)
	}
	generators = append(generators, backend.NewOllamaGenerator(backend.DefaultOllamaConfig()))

	// Register the cross product, up to the four canonical patterns:
	// google+gemini, google+llama, ollama+gemini and ollama+llama
	fmt.Println("=== Registering Patterns ===")
	for _, embedder := range embedders {
		for _, generator := range generators {
			pattern, err := b.RegisterPattern(embedder, generator)
			if err != nil {
				log.Printf("Warning: failed to register %s+%s: %v", embedder.Name(), generator.Name(), err)
				continue
			}
			fmt.Printf("Registered %s\n", pattern.ID)
		}
	}
	if len(b.Patterns()) == 0 {
		log.Fatalf("No patterns available, set GEMINI_API_KEY or start an Ollama instance")
	}

	// Probe the database and every backend with a health check
	fmt.Println("\n=== Health ===")
	health := b.Health(ctx)
	probes := make([]string, 0, len(health))
	for probe := range health {
		probes = append(probes, probe)
	}
	sort.Strings(probes)
	for _, probe := range probes {
		if health[probe] != nil {
			fmt.Printf("✗ %s: %v\n", probe, health[probe])
		} else {
			fmt.Printf("✓ %s\n", probe)
		}
	}

	// Ingest the corpus once per embedder. Every embedder gets its own
	// partition, an ingestion failure only disables that embedder's patterns.
	fmt.Println("\n=== Ingesting Corpus ===")
	for _, embedder := range embedders {
		if _, err := b.CreateSpaceFor(embedder); err != nil {
			log.Printf("Warning: failed to create space for %s: %v", embedder.Name(), err)
			continue
		}

		docs := make([]*model.Document, len(corpus))
		for i, p := range corpus {
			docs[i] = model.NewDocument(p.content, p.category, "en")
		}

		inserted, err := b.EmbedAndInsert(ctx, embedder, docs)
		if err != nil {
			log.Printf("Warning: ingestion for %s failed, its patterns will fail to resolve: %v", embedder.Name(), err)
			continue
		}
		fmt.Printf("Embedded %d passages with %s (%s, %d dimensions)\n",
			inserted, embedder.Name(), embedder.Model(), embedder.Dimension())
	}

	// Run the same question through every pattern in parallel
	query := "How do goroutines communicate with each other?"
	fmt.Printf("\n=== Comparing Patterns ===\nQuery: %s\n", query)

	config := comparison.DefaultSessionConfig()
	config.Search.TopK = 4
	config.MaxAnswerTokens = 256

	run, err := b.Compare(ctx, query, nil, config)
	if err != nil {
		log.Fatalf("Comparison run failed: %v", err)
	}

	for _, outcome := range run.Outcomes {
		printOutcome(outcome)
	}

	succeeded := 0
	for _, outcome := range run.Outcomes {
		if outcome.Succeeded() {
			succeeded++
		}
	}
	fmt.Printf("\n=== Run %s finished in %v: %d/%d patterns answered ===\n",
		run.ID, run.Duration.Round(time.Millisecond), succeeded, len(run.Outcomes))

	fmt.Println("\nKey features demonstrated:")
	fmt.Println("✓ One embedding space per embedding model")
	fmt.Println("✓ Patterns as embedder+generator pairings")
	fmt.Println("✓ Backend health probes")
	fmt.Println("✓ Parallel comparison runs with per-pattern isolation")
	fmt.Println("✓ Degraded outcomes keep their retrieval results")
}

func printOutcome(outcome *model.PatternOutcome) {
	fmt.Printf("\n--- %s ---\n", outcome.PatternID)

	switch {
	case outcome.Err != nil:
		fmt.Printf("Failed: %s\n", outcome.FailureMessage())
		return
	case outcome.GenerationCancelled:
		fmt.Println("Generation cancelled, retrieval result preserved")
	case outcome.RetrievalOnly:
		fmt.Println("Generation timed out, showing the retrieved passages instead")
	default:
		fmt.Printf("Answer: %s\n", truncate(outcome.Answer, 300))
	}

	if outcome.Result != nil {
		fmt.Printf("Retrieved %d passages from %s\n",
			len(outcome.Result.Documents), outcome.Result.Provenance.Table)
		for _, ranked := range outcome.Result.Documents {
			fmt.Printf("  [%d] %.4f %s\n", ranked.Rank, ranked.Distance, truncate(ranked.Document.Content, 80))
		}
	}
	fmt.Printf("Timing: embed %v, search %v, generate %v, total %v\n",
		outcome.Timing.Embed.Round(time.Millisecond),
		outcome.Timing.Search.Round(time.Millisecond),
		outcome.Timing.Generate.Round(time.Millisecond),
		outcome.Timing.Total.Round(time.Millisecond))
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
