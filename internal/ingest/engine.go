// Package ingest is the batch ingestion engine: it walks the catalog page by
// page, detects changed images by content fingerprint, embeds only what
// changed, and upserts the results. One bad image never aborts the batch.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/ecom-agents/stylefinder/internal/imageutils"
	"github.com/ecom-agents/stylefinder/internal/logger"
)

const (
	// defaultPageSize is the internal page size; pages are processed
	// strictly sequentially to bound memory and keep counters simple.
	defaultPageSize = 50

	// defaultItemCodeField is the catalog field carrying the item code.
	defaultItemCodeField = "ItemNumber"
)

// Config wires the engine's collaborators.
type Config struct {
	Catalog  core.CatalogSource
	Fetcher  core.ImageFetcher
	Embedder core.EmbedService
	Store    core.VectorStore
	Ledger   core.RunLedger
	Filters  core.ItemFilters
	// DryRun executes the pipeline through fingerprinting and change
	// detection but performs no embedding calls and no store writes.
	DryRun bool
	// PageSize overrides the internal page size (mainly for tests).
	PageSize int
	// ItemCodeField overrides the catalog field used as item code.
	ItemCodeField string
}

// Engine runs batch ingestion.
type Engine struct {
	catalog       core.CatalogSource
	fetcher       core.ImageFetcher
	embedder      core.EmbedService
	store         core.VectorStore
	ledger        core.RunLedger
	filters       core.ItemFilters
	dryRun        bool
	pageSize      int
	itemCodeField string
}

// NewEngine creates a batch ingestion engine.
func NewEngine(cfg Config) *Engine {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	itemCodeField := cfg.ItemCodeField
	if itemCodeField == "" {
		itemCodeField = defaultItemCodeField
	}
	return &Engine{
		catalog:       cfg.Catalog,
		fetcher:       cfg.Fetcher,
		embedder:      cfg.Embedder,
		store:         cfg.Store,
		ledger:        cfg.Ledger,
		filters:       cfg.Filters,
		dryRun:        cfg.DryRun,
		pageSize:      pageSize,
		itemCodeField: itemCodeField,
	}
}

// DocID derives the deterministic document key for one catalog image: one
// document per image, not per item.
func DocID(itemID int64, imageIndex int) string {
	return fmt.Sprintf("%d_%d", itemID, imageIndex)
}

// Run processes up to totalLimit items and returns the aggregated counters.
// It terminates when a page returns fewer items than requested (catalog
// exhausted) or totalLimit is reached. Partial per-item failures never abort
// the run.
func (e *Engine) Run(ctx context.Context, totalLimit int) (core.RunStats, error) {
	stats := core.RunStats{
		DryRun:    e.dryRun,
		StartedAt: time.Now(),
	}

	processedSoFar := 0
	for processedSoFar < totalLimit {
		pageLimit := e.pageSize
		if remaining := totalLimit - processedSoFar; remaining < pageLimit {
			pageLimit = remaining
		}

		batch := e.ProcessBatch(ctx, processedSoFar, pageLimit)
		stats.Processed += batch.Processed
		stats.Updated += batch.Updated
		stats.Skipped += batch.Skipped
		stats.Failed += batch.Failed

		processedSoFar += pageLimit
		if batch.Processed < pageLimit {
			// Short page: catalog exhausted.
			break
		}
		if err := ctx.Err(); err != nil {
			stats.FinishedAt = time.Now()
			return stats, err
		}
	}

	stats.FinishedAt = time.Now()
	if e.ledger != nil && !e.dryRun {
		if err := e.ledger.RecordRun(ctx, stats); err != nil {
			logger.IngestWarn("Failed to record run summary: %v", err)
		}
	}
	return stats, nil
}

// ProcessBatch processes one page of the catalog. A page fetch failure marks
// the full requested page size as failed; the run continues at the next
// offset.
func (e *Engine) ProcessBatch(ctx context.Context, offset, limit int) core.BatchStats {
	stats := core.BatchStats{BatchStart: offset}

	logger.IngestInfo("Processing batch: offset=%d limit=%d", offset, limit)
	items, err := e.catalog.GetItems(ctx, offset, limit, e.filters)
	if err != nil {
		logger.IngestError("Failed to fetch batch from catalog: %v", err)
		// Count the whole requested page as attempted and failed so the run
		// moves on to the next offset instead of stopping here.
		stats.Processed = limit
		stats.Failed = limit
		return stats
	}
	if len(items) == 0 {
		logger.IngestInfo("No items found in range offset=%d", offset)
		return stats
	}

	for i := range items {
		stats.Processed++
		e.processItem(ctx, &items[i], &stats)
	}
	return stats
}

func (e *Engine) processItem(ctx context.Context, item *core.CatalogItem, stats *core.BatchStats) {
	if len(item.ImageURLs) == 0 {
		logger.IngestDebug("[%d] Skip: no image URLs", item.EntityID)
		stats.Skipped++
		return
	}

	for idx, url := range item.ImageURLs {
		switch e.processImage(ctx, item, idx, url) {
		case outcomeUpdated:
			stats.Updated++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeFailed:
			stats.Failed++
		}
	}
}

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeSkipped
	outcomeFailed
)

// processImage runs the per-image pipeline: download, validate, fingerprint,
// change-detect, embed, upsert. Failures are recorded and contained here.
func (e *Engine) processImage(ctx context.Context, item *core.CatalogItem, idx int, url string) outcome {
	docID := DocID(item.EntityID, idx)

	body, contentType, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return e.fail(ctx, item.EntityID, docID, fmt.Errorf("download failed: %w", err))
	}

	// Non-image payloads (videos are common in PIM media sets) are a skip,
	// not a failure.
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		logger.IngestDebug("[%s] Skip: content type %q is not an image", docID, contentType)
		return outcomeSkipped
	}
	if !imageutils.Validate(body) {
		logger.IngestDebug("[%s] Skip: payload does not decode as an image", docID)
		return outcomeSkipped
	}

	hash := imageutils.Fingerprint(body)

	existing, err := e.store.Get(ctx, docID)
	if err != nil {
		return e.fail(ctx, item.EntityID, docID, fmt.Errorf("store lookup failed: %w", err))
	}
	if existing != nil && existing.ImageHash == hash {
		logger.IngestDebug("[%s] Skip: image hash unchanged (%s...)", docID, hash[:8])
		return outcomeSkipped
	}

	if e.dryRun {
		logger.IngestInfo("[%s] Dry-run: would embed and upsert (hash %s...)", docID, hash[:8])
		return outcomeUpdated
	}

	vector, err := e.embedder.Embed(ctx, body, "")
	if err != nil {
		return e.fail(ctx, item.EntityID, docID, fmt.Errorf("embedding failed: %w", err))
	}
	if vector == nil {
		return e.fail(ctx, item.EntityID, docID, fmt.Errorf("embedding backend returned no vector"))
	}

	doc := &core.ImageDoc{
		DocID:           docID,
		ItemID:          item.EntityID,
		ItemCode:        e.itemCode(item),
		Name:            item.ProductFields.Name,
		ImageURL:        url,
		ImageHash:       hash,
		Embedding:       vector,
		ParentProductID: item.ProductFields.EntityID,
		LastUpdated:     time.Now().Unix(),
	}
	if err := e.store.Upsert(ctx, doc); err != nil {
		return e.fail(ctx, item.EntityID, docID, fmt.Errorf("upsert failed: %w", err))
	}

	logger.IngestInfo("[%s] Indexed (hash %s...)", docID, hash[:8])
	return outcomeUpdated
}

// fail records the failure in the ledger and contains it to this image.
func (e *Engine) fail(ctx context.Context, itemID int64, docID string, cause error) outcome {
	logger.IngestError("[%s] %v", docID, cause)
	if e.ledger != nil && !e.dryRun {
		record := core.IngestionError{
			DocID:     docID,
			ItemID:    itemID,
			Message:   cause.Error(),
			Timestamp: time.Now(),
		}
		if err := e.ledger.RecordError(ctx, record); err != nil {
			// Secondary error while recording; never let it abort the batch.
			logger.IngestWarn("[%s] Failed to record error: %v", docID, err)
		}
	}
	return outcomeFailed
}

func (e *Engine) itemCode(item *core.CatalogItem) string {
	if v, ok := item.ItemFields[e.itemCodeField]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
