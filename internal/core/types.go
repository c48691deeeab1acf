package core

import "time"

// DefaultEmbeddingDim is the vector dimension used by the multimodal
// embedding backend. It is a binding contract with the vector collection:
// mixed dimensions in one collection break nearest-neighbor comparisons.
const DefaultEmbeddingDim = 1408

// CatalogItem is one sellable unit fetched from the PIM. It lives for a
// single batch iteration and is never persisted by this system.
type CatalogItem struct {
	EntityID      int64                  `json:"entity_id"`
	ItemFields    map[string]interface{} `json:"item_fields,omitempty"`
	ProductFields ProductFields          `json:"product_fields,omitempty"`
	ImageURLs     []string               `json:"image_urls,omitempty"`
}

// ProductFields carries the fields inherited from the parent Product entity.
type ProductFields struct {
	EntityID int64                  `json:"entity_id"`
	Name     map[string]string      `json:"name,omitempty"` // locale -> display name
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// ItemFilters narrows the catalog query to the assortment we index.
type ItemFilters struct {
	BusinessFormula string
	MinSeasonYear   int
}

// ImageDoc is the unit of storage in the vector collection: one document per
// catalog image, keyed by "<itemID>_<imageIndex>".
//
// ImageHash always describes the bytes that produced Embedding; the two are
// written in the same upsert.
type ImageDoc struct {
	DocID           string            `json:"doc_id"`
	ItemID          int64             `json:"item_id"`
	ItemCode        string            `json:"item_code,omitempty"`
	Name            map[string]string `json:"name,omitempty"`
	ImageURL        string            `json:"image_url,omitempty"`
	ImageHash       string            `json:"image_hash,omitempty"`
	Embedding       []float32         `json:"embedding,omitempty"`
	ParentProductID int64             `json:"parent_product_id,omitempty"`
	LastUpdated     int64             `json:"last_updated,omitempty"` // unix seconds
}

// IngestionError records one non-fatal per-image failure. It is kept outside
// the searchable corpus so failure accounting never pollutes search results.
type IngestionError struct {
	DocID     string    `json:"doc_id,omitempty"`
	ItemID    int64     `json:"item_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DetectedRegion is one garment/accessory proposal from the region detector.
// Box coordinates are normalized to a 0-1000 space, ordered
// y-min, x-min, y-max, x-max. Regions are ephemeral, never persisted.
type DetectedRegion struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Box         [4]int `json:"box_2d"`
}

// SearchResult is one ranked neighbor. Distance is cosine distance: lower is
// more similar. The raw embedding is stripped before results leave the engine.
type SearchResult struct {
	Doc      ImageDoc `json:"doc"`
	Distance float32  `json:"vector_distance"`
}

// BatchStats are the counters for one page of the ingestion run.
// Processed counts items; Updated/Skipped/Failed count images.
type BatchStats struct {
	BatchStart int `json:"batch_start"`
	Processed  int `json:"processed"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// RunStats aggregates counters across a whole ingestion run.
type RunStats struct {
	Processed  int       `json:"total_processed"`
	Updated    int       `json:"total_updated"`
	Skipped    int       `json:"total_skipped"`
	Failed     int       `json:"total_failed"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns the wall-clock duration of the run.
func (s RunStats) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
