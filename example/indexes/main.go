package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/mizutome/ragbench"
	"github.com/mizutome/ragbench/core/backend"
	"github.com/mizutome/ragbench/helper"
	"github.com/mizutome/ragbench/model"
)

const kjvRepoURL = "https://raw.githubusercontent.com/arleym/kjv-markdown/master"
const kjvBook = "01 - Genesis - KJV.md"

// maxVerses caps the ingested corpus so the demo stays fast.
const maxVerses = 300

// hashEmbedder hashes tokens into buckets. Deterministic and offline, texts
// sharing words land close to each other.
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

type quoteGenerator struct{}

func (g *quoteGenerator) Name() string {
	return "quote"
}

func (g *quoteGenerator) Generate(ctx context.Context, question string, contexts []*model.RankedDocument, maxTokens int) (string, error) {
	if len(contexts) == 0 {
		return "", &model.InvalidInputError{Reason: "no contexts to answer from"}
	}
	return contexts[0].Document.Content, nil
}

func main() {
	// Download the book of Genesis from GitHub
	fmt.Printf("Downloading %s...\n", kjvBook)
	content, err := downloadBook(kjvBook)
	if err != nil {
		log.Fatalf("Failed to download book: %v", err)
	}

	verses := parseVerses(content)
	if len(verses) > maxVerses {
		verses = verses[:maxVerses]
	}
	fmt.Printf("Parsed %d verses\n", len(verses))

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

	embedder := &hashEmbedder{dimension: 128}
	if _, err := b.CreateSpaceFor(embedder); err != nil {
		log.Fatalf("Failed to create embedding space: %v", err)
	}
	pattern, err := b.RegisterPattern(embedder, &quoteGenerator{})
	if err != nil {
		log.Fatalf("Failed to register pattern: %v", err)
	}

	// Ingest the verses
	fmt.Println("Embedding and inserting verses...")
	docs := make([]*model.Document, len(verses))
	for i, verse := range verses {
		docs[i] = model.NewDocument(verse, "genesis", "en")
	}
	ctx := context.Background()
	inserted, err := b.EmbedAndInsert(ctx, embedder, docs)
	if err != nil {
		log.Fatalf("Failed to ingest verses: %v", err)
	}
	fmt.Printf("Inserted %d verses\n\n", inserted)

	query := "And God said, Let there be light: and there was light."
	config := model.DefaultSearchConfig()
	config.TopK = 5

	// 1. Exact baseline: a sequential scan never prunes
	fmt.Println("=== 1. Exact Search (no index) ===")
	baseline, err := b.Search(ctx, pattern.ID, query, config)
	if err != nil {
		log.Fatalf("Exact search failed: %v", err)
	}
	printResults(baseline)

	// 2. Graph-based index: approximate, but high recall on small data and
	// no pruning caveat
	fmt.Println("\n=== 2. Graph-Based Index (hnsw) ===")
	_, err = b.ChangeIndexStrategy(ctx, embedder.Name(), model.IndexHNSW, map[string]interface{}{
		"m":               16,
		"ef_construction": 64,
	})
	if err != nil {
		log.Fatalf("Failed to switch to the graph-based index: %v", err)
	}

	graphed, err := b.Search(ctx, pattern.ID, query, config)
	if err != nil {
		log.Fatalf("Graph-based search failed: %v", err)
	}
	printResults(graphed)
	if sameRanking(baseline, graphed) {
		fmt.Println("The graph walk reproduced the exact ranking.")
	} else {
		fmt.Println("The graph walk diverged from the exact ranking.")
	}

	// 3. Clustered index with few probes may miss matching verses
	fmt.Println("\n=== 3. Clustered Index (ivfflat, probes=1) ===")
	_, err = b.ChangeIndexStrategy(ctx, embedder.Name(), model.IndexIVFFlat, map[string]interface{}{
		"lists": 8,
	})
	if err != nil {
		log.Fatalf("Failed to switch to the clustered index: %v", err)
	}

	config.Probes = 1
	pruned, err := b.Search(ctx, pattern.ID, query, config)
	if err != nil {
		log.Fatalf("Clustered search failed: %v", err)
	}
	printResults(pruned)
	if msg := pruned.Provenance.CaveatMessage(); msg != "" {
		fmt.Printf("Caveat: %s\n", msg)
	}
	if sameRanking(baseline, pruned) {
		fmt.Println("The probed clusters happened to cover the exact top ranking.")
	} else {
		fmt.Println("Pruning changed the ranking compared to the exact baseline.")
	}

	// 4. Probing every cluster restores exact recall
	fmt.Println("\n=== 4. Clustered Index (probes = lists) ===")
	config.Probes = 8
	recovered, err := b.Search(ctx, pattern.ID, query, config)
	if err != nil {
		log.Fatalf("Recovered search failed: %v", err)
	}
	printResults(recovered)
	if sameRanking(baseline, recovered) {
		fmt.Println("Scanning every cluster reproduced the exact ranking.")
	} else {
		fmt.Println("Unexpected: full probing should match the exact baseline.")
	}

	// Switch back to the exact strategy
	_, err = b.ChangeIndexStrategy(ctx, embedder.Name(), model.IndexNone, nil)
	if err != nil {
		log.Fatalf("Failed to switch back: %v", err)
	}

	fmt.Println("\nIndex strategy example completed successfully!")
}

func downloadBook(bookName string) (string, error) {
	// URL-encode the filename to handle spaces
	encodedName := url.PathEscape(bookName)
	downloadURL := fmt.Sprintf("%s/%s", kjvRepoURL, encodedName)
	resp, err := http.Get(downloadURL)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", bookName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: status %d", bookName, resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", bookName, err)
	}

	return string(content), nil
}

// parseVerses keeps the verse lines of a KJV markdown book and strips the
// chapter:verse markers.
func parseVerses(content string) []string {
	var verses []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Verse lines look like "**1:3** And God said, ..."
		if strings.HasPrefix(line, "**") {
			if _, text, found := strings.Cut(line[2:], "** "); found {
				line = text
			}
		}
		if line != "" {
			verses = append(verses, line)
		}
	}
	return verses
}

func printResults(result *model.SearchResult) {
	fmt.Printf("Found %d of %d candidates (strategy %s):\n",
		len(result.Documents), result.Provenance.CandidateCount, result.Provenance.IndexStrategy)
	for _, ranked := range result.Documents {
		content := ranked.Document.Content
		if len(content) > 80 {
			content = content[:80] + "..."
		}
		fmt.Printf("  [%d] %.4f %s\n", ranked.Rank, ranked.Distance, content)
	}
}

func sameRanking(a *model.SearchResult, b *model.SearchResult) bool {
	if len(a.Documents) != len(b.Documents) {
		return false
	}
	for i := range a.Documents {
		if a.Documents[i].Document.ID != b.Documents[i].Document.ID {
			return false
		}
	}
	return true
}
