package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/ecom-agents/stylefinder/internal/imageutils"
	"github.com/ecom-agents/stylefinder/internal/logger"
	"github.com/ecom-agents/stylefinder/internal/search"
	"github.com/ecom-agents/stylefinder/internal/vecstore"
	"github.com/ecom-agents/stylefinder/internal/vertex"
)

// Config represents the search configuration.
type Config struct {
	MilvusHost     string
	MilvusPort     string
	Collection     string
	GoogleProject  string
	VertexLocation string
	VertexToken    string
	GeminiAPIKey   string
	GeminiModel    string
	EmbeddingDim   int
	Threshold      float64
	Budget         int
	SynonymsFile   string
}

func loadConfig() *Config {
	return &Config{
		MilvusHost:     getEnvWithDefault("MILVUS_HOST", "milvus"),
		MilvusPort:     getEnvWithDefault("MILVUS_PORT", "19530"),
		Collection:     getEnvWithDefault("MILVUS_COLLECTION", vecstore.DefaultCollection),
		GoogleProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		VertexLocation: getEnvWithDefault("VERTEX_LOCATION", "us-central1"),
		VertexToken:    os.Getenv("VERTEX_ACCESS_TOKEN"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnvWithDefault("GEMINI_MODEL", ""),
		EmbeddingDim:   getEnvIntWithDefault("EMBEDDING_DIM", core.DefaultEmbeddingDim),
		Threshold:      getEnvFloatWithDefault("SEARCH_DISTANCE_THRESHOLD", search.DefaultDistanceThreshold),
		Budget:         getEnvIntWithDefault("SEARCH_BUDGET", 10),
		SynonymsFile:   os.Getenv("SYNONYMS_FILE"),
	}
}

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

// displayName picks the best localization for the terminal: Dutch first,
// then British English, then whatever the document has.
func displayName(name map[string]string) string {
	for _, locale := range []string{"nl-NL", "en-GB", "_"} {
		if v := name[locale]; v != "" {
			return v
		}
	}
	for _, v := range name {
		if v != "" {
			return v
		}
	}
	return "(unnamed)"
}

func main() {
	imagePath := flag.String("image", "", "Path to the query image (required)")
	query := flag.String("query", "", "Optional text hint, e.g. \"rode trui\"")
	limit := flag.Int("limit", 5, "Maximum number of results")
	autoDetect := flag.Bool("auto-detect", true, "Allow garment region detection (runs for tall images or when -query is empty)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger.Init(*debug)

	if err := godotenv.Load(); err != nil {
		logger.Info("Warning: No .env file found or error loading it")
	}

	config := loadConfig()

	if *imagePath == "" {
		logger.Error("-image is required")
		flag.Usage()
		os.Exit(1)
	}
	if config.GoogleProject == "" || config.VertexToken == "" {
		logger.Error("GOOGLE_CLOUD_PROJECT and VERTEX_ACCESS_TOKEN environment variables are required")
		os.Exit(1)
	}

	imageBytes, err := os.ReadFile(*imagePath)
	if err != nil {
		logger.Error("Failed to read query image: %v", err)
		os.Exit(1)
	}
	if !imageutils.Validate(imageBytes) {
		logger.Error("%s does not decode as an image", *imagePath)
		os.Exit(1)
	}

	// Phone screenshots carry UI chrome at the bottom; strip it before
	// anything looks at the pixels.
	imageBytes, cropped := imageutils.CropBottomIfScreenshot(imageBytes, imageutils.DefaultBottomCropFraction)
	if cropped {
		logger.SearchInfo("Query image looks like a screenshot, stripped the bottom %d%%",
			int(imageutils.DefaultBottomCropFraction*100))
	}

	synonyms, err := search.LoadSynonyms(config.SynonymsFile)
	if err != nil {
		logger.Error("Failed to load synonyms: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()

	milvusAddr := config.MilvusHost + ":" + config.MilvusPort
	store, err := vecstore.NewStore(ctx, milvusAddr, config.Collection, config.EmbeddingDim)
	if err != nil {
		logger.Error("Failed to initialize vector store: %v", err)
		os.Exit(1)
	}
	defer store.Close(context.Background())

	embedder := vertex.NewEmbeddingClient(vertex.EmbeddingConfig{
		Project:     config.GoogleProject,
		Location:    config.VertexLocation,
		AccessToken: config.VertexToken,
		Dimension:   config.EmbeddingDim,
	})

	var detector core.RegionDetector
	if config.GeminiAPIKey != "" {
		detector = vertex.NewDetectorClient(vertex.DetectorConfig{
			APIKey: config.GeminiAPIKey,
			Model:  config.GeminiModel,
		})
	} else {
		logger.SearchInfo("GEMINI_API_KEY not set, region detection disabled")
	}

	engine := search.NewEngine(search.Config{
		Embedder:          embedder,
		Store:             store,
		Detector:          detector,
		Synonyms:          synonyms,
		DistanceThreshold: float32(config.Threshold),
		Budget:            search.NewBudget(config.Budget),
	})

	outcome, err := engine.Search(ctx, search.Query{
		Image:      imageBytes,
		Text:       *query,
		Limit:      *limit,
		AutoDetect: *autoDetect,
	})
	if err != nil {
		logger.Error("Search failed: %v", err)
		os.Exit(1)
	}

	if outcome.NeedsChoice {
		fmt.Println("Several items detected in the image. Re-run with -query naming one of:")
		for i, r := range outcome.Regions {
			fmt.Printf("  %d. %s", i+1, r.Label)
			if r.Description != "" {
				fmt.Printf(" (%s)", r.Description)
			}
			fmt.Println()
		}
		return
	}

	if outcome.WasCropped {
		fmt.Println("Searched with a cropped garment region.")
	}
	if len(outcome.Results) == 0 {
		fmt.Println("No similar products found.")
		return
	}

	fmt.Printf("Found %d similar product(s):\n", len(outcome.Results))
	for i, r := range outcome.Results {
		confidence := (1 - r.Distance) * 100
		fmt.Printf("  %d. %s", i+1, displayName(r.Doc.Name))
		if r.Doc.ItemCode != "" {
			fmt.Printf(" [%s]", r.Doc.ItemCode)
		}
		fmt.Printf(" | item %d | confidence %.1f%%\n", r.Doc.ItemID, confidence)
		fmt.Printf("     %s\n", r.Doc.ImageURL)
	}
}
