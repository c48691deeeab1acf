package core

import "context"

// EmbedService turns an image (optionally with a text hint) into a
// fixed-dimension dense vector.
//
// A nil vector with a nil error means the backend returned no embedding;
// callers treat that as a first-class skip/failure condition, distinct from a
// transport error.
type EmbedService interface {
	Embed(ctx context.Context, image []byte, contextText string) ([]float32, error)
	Dimensions() int
}

// VectorStore is the persistent vector collection.
type VectorStore interface {
	// Get returns the document with the given primary key, or nil if absent.
	Get(ctx context.Context, docID string) (*ImageDoc, error)
	// Upsert writes with merge semantics: fields of the stored document that
	// the new document leaves zero are preserved.
	Upsert(ctx context.Context, doc *ImageDoc) error
	// SearchNearest returns up to limit neighbors ranked by ascending cosine
	// distance, each annotated with its distance.
	SearchNearest(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)
	// IndexedItemIDs returns the distinct item ids present in the collection.
	IndexedItemIDs(ctx context.Context) ([]int64, error)
}

// CatalogSource is the paginated PIM adapter.
type CatalogSource interface {
	// GetItems fetches the [offset, offset+limit) slice of the matching
	// catalog. An empty slice past the end is the exhaustion signal, not an
	// error. Per-item fetch failures are logged and excluded.
	GetItems(ctx context.Context, offset, limit int, filters ItemFilters) ([]CatalogItem, error)
	// GetMatchingIDs resolves the full ordered id set for the filter.
	GetMatchingIDs(ctx context.Context, filters ItemFilters) ([]int64, error)
}

// ImageFetcher downloads raw image bytes, reporting the response content type
// so callers can reject non-image payloads.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// RegionDetector proposes labeled sub-regions for distinct garment or
// accessory instances in an image. Detection is advisory: any backend or
// parse failure yields an empty slice, and empty means "use the full image".
type RegionDetector interface {
	DetectRegions(ctx context.Context, image []byte) []DetectedRegion
}

// RunLedger records per-image failures and run summaries outside the vector
// collection.
type RunLedger interface {
	RecordError(ctx context.Context, e IngestionError) error
	RecordRun(ctx context.Context, stats RunStats) error
	// FailedItemIDs returns the distinct item ids with recorded errors.
	FailedItemIDs(ctx context.Context) ([]int64, error)
}
