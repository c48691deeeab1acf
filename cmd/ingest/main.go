package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/ecom-agents/stylefinder/internal/ingest"
	"github.com/ecom-agents/stylefinder/internal/inriver"
	"github.com/ecom-agents/stylefinder/internal/ledger"
	"github.com/ecom-agents/stylefinder/internal/logger"
	"github.com/ecom-agents/stylefinder/internal/vecstore"
	"github.com/ecom-agents/stylefinder/internal/vertex"
)

// Config represents the ingestion configuration.
type Config struct {
	InRiverBaseURL string
	InRiverAPIKey  string
	FilterFormula  string
	FilterMinYear  int
	MilvusHost     string
	MilvusPort     string
	Collection     string
	GoogleProject  string
	VertexLocation string
	VertexToken    string
	EmbedRPS       float64
	EmbeddingDim   int
	DataDir        string
}

// loadConfig loads configuration from environment variables.
func loadConfig() *Config {
	return &Config{
		InRiverBaseURL: os.Getenv("INRIVER_BASE_URL"),
		InRiverAPIKey:  os.Getenv("INRIVER_API_KEY"),
		FilterFormula:  getEnvWithDefault("INRIVER_FILTER_FORMULA", "C"),
		FilterMinYear:  getEnvIntWithDefault("INRIVER_FILTER_MIN_YEAR", 2025),
		MilvusHost:     getEnvWithDefault("MILVUS_HOST", "milvus"),
		MilvusPort:     getEnvWithDefault("MILVUS_PORT", "19530"),
		Collection:     getEnvWithDefault("MILVUS_COLLECTION", vecstore.DefaultCollection),
		GoogleProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		VertexLocation: getEnvWithDefault("VERTEX_LOCATION", "us-central1"),
		VertexToken:    os.Getenv("VERTEX_ACCESS_TOKEN"),
		EmbedRPS:       getEnvFloatWithDefault("VERTEX_EMBED_RPS", 2),
		EmbeddingDim:   getEnvIntWithDefault("EMBEDDING_DIM", core.DefaultEmbeddingDim),
		DataDir:        getEnvWithDefault("DATA_DIR", "./data"),
	}
}

// getEnvWithDefault gets an environment variable or returns a default value.
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("Invalid integer for %s: %q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger.Warn("Invalid number for %s: %q, using %g", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func main() {
	limit := flag.Int("limit", 1000, "Maximum number of catalog items to process")
	dryRun := flag.Bool("dry-run", false, "Detect changes but skip embedding and writes")
	verify := flag.Bool("verify", false, "Compare the catalog against the index and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger.Init(*debug)

	if err := godotenv.Load(); err != nil {
		logger.Info("Warning: No .env file found or error loading it")
	}

	config := loadConfig()

	if config.InRiverBaseURL == "" {
		logger.Error("INRIVER_BASE_URL environment variable is required")
		os.Exit(1)
	}
	if config.InRiverAPIKey == "" {
		logger.Error("INRIVER_API_KEY environment variable is required")
		os.Exit(1)
	}
	if !*dryRun && !*verify {
		if config.GoogleProject == "" {
			logger.Error("GOOGLE_CLOUD_PROJECT environment variable is required")
			os.Exit(1)
		}
		if config.VertexToken == "" {
			logger.Error("VERTEX_ACCESS_TOKEN environment variable is required")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutdown signal received, finishing the current page...")
		cancel()
	}()

	catalog := inriver.NewClient(config.InRiverBaseURL, config.InRiverAPIKey)
	filters := core.ItemFilters{
		BusinessFormula: config.FilterFormula,
		MinSeasonYear:   config.FilterMinYear,
	}

	milvusAddr := config.MilvusHost + ":" + config.MilvusPort
	store, err := vecstore.NewStore(ctx, milvusAddr, config.Collection, config.EmbeddingDim)
	if err != nil {
		logger.Error("Failed to initialize vector store: %v", err)
		os.Exit(1)
	}
	defer store.Close(context.Background())

	runLedger, err := ledger.Open(config.DataDir)
	if err != nil {
		logger.Error("Failed to open ingestion ledger: %v", err)
		os.Exit(1)
	}
	defer runLedger.Close()

	embedder := vertex.NewEmbeddingClient(vertex.EmbeddingConfig{
		Project:           config.GoogleProject,
		Location:          config.VertexLocation,
		AccessToken:       config.VertexToken,
		Dimension:         config.EmbeddingDim,
		RequestsPerSecond: config.EmbedRPS,
	})

	engine := ingest.NewEngine(ingest.Config{
		Catalog:  catalog,
		Fetcher:  ingest.NewHTTPFetcher(),
		Embedder: embedder,
		Store:    store,
		Ledger:   runLedger,
		Filters:  filters,
		DryRun:   *dryRun,
	})

	if *verify {
		report, err := engine.Verify(ctx)
		if err != nil {
			logger.Error("Verification failed: %v", err)
			os.Exit(1)
		}
		fmt.Println(report)
		return
	}

	total, err := catalog.GetTotalCount(ctx, filters)
	if err != nil {
		logger.Warn("Could not determine total matching items: %v", err)
	} else {
		logger.IngestInfo("Catalog reports %d matching items, processing up to %d", total, *limit)
	}

	stats, err := engine.Run(ctx, *limit)
	if err != nil && ctx.Err() == nil {
		logger.Error("Ingestion run failed: %v", err)
		os.Exit(1)
	}

	mode := "INGESTION RUN"
	if stats.DryRun {
		mode = "INGESTION DRY RUN"
	}
	fmt.Println(strings.Repeat("=", 40))
	fmt.Println(mode + " COMPLETE")
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("Duration:  %s\n", stats.Duration().Round(time.Second))
	fmt.Printf("Processed: %d\n", stats.Processed)
	fmt.Printf("Updated:   %d\n", stats.Updated)
	fmt.Printf("Skipped:   %d\n", stats.Skipped)
	fmt.Printf("Failed:    %d\n", stats.Failed)
	fmt.Println(strings.Repeat("=", 40))
}
