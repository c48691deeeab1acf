// Package vecstore is the Milvus-backed vector store adapter: one collection
// of product-image documents with a cosine HNSW index on the embedding field.
package vecstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/ecom-agents/stylefinder/internal/logger"
)

// Field names for the product images collection
const (
	FieldDocID           = "doc_id"
	FieldItemID          = "item_id"
	FieldItemCode        = "item_code"
	FieldName            = "name"
	FieldImageURL        = "image_url"
	FieldImageHash       = "image_hash"
	FieldParentProductID = "parent_product_id"
	FieldLastUpdated     = "last_updated"
	FieldEmbedding       = "embedding"
)

// DefaultCollection is the default collection name.
const DefaultCollection = "product_images"

var outputFields = []string{
	FieldDocID, FieldItemID, FieldItemCode, FieldName, FieldImageURL,
	FieldImageHash, FieldParentProductID, FieldLastUpdated,
}

// Store wraps the Milvus client for the product image collection.
type Store struct {
	client       *milvusclient.Client
	collection   string
	embeddingDim int
}

// NewStore connects to Milvus and ensures the collection exists and is
// loaded. The dimension is a binding contract with the embedding backend.
func NewStore(ctx context.Context, addr, collection string, embeddingDim int) (*Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if embeddingDim <= 0 {
		embeddingDim = core.DefaultEmbeddingDim
	}

	logger.Info("Connecting to Milvus at %s (collection %s, dim %d)", addr, collection, embeddingDim)
	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Milvus: %w", err)
	}

	s := &Store{
		client:       c,
		collection:   collection,
		embeddingDim: embeddingDim,
	}
	if err := s.ensureCollection(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Close closes the Milvus connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// EmbeddingDim returns the collection's vector dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "Product image embeddings for visual similarity search",
			Fields: []*entity.Field{
				{
					Name:       FieldDocID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:     FieldItemID,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       FieldItemCode,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "255"},
				},
				{
					Name:     FieldName,
					DataType: entity.FieldTypeJSON,
				},
				{
					Name:       FieldImageURL,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "2048"},
				},
				{
					Name:       FieldImageHash,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:     FieldParentProductID,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     FieldLastUpdated,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     FieldEmbedding,
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", s.embeddingDim),
					},
				},
			},
		}

		createOpt := milvusclient.NewCreateCollectionOption(s.collection, schema)
		if err := s.client.CreateCollection(ctx, createOpt); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		// Cosine distance is the search contract; the engine converts the
		// similarity scores Milvus returns back into distances.
		idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		indexOpt := milvusclient.NewCreateIndexOption(s.collection, FieldEmbedding, idx)
		if _, err := s.client.CreateIndex(ctx, indexOpt); err != nil {
			return fmt.Errorf("failed to create index on embedding field: %w", err)
		}

		logger.Info("Created collection %s with cosine HNSW index", s.collection)
	}

	loadOpt := milvusclient.NewLoadCollectionOption(s.collection)
	if _, err := s.client.LoadCollection(ctx, loadOpt); err != nil {
		return fmt.Errorf("failed to load collection %s: %w", s.collection, err)
	}
	return nil
}

// Get returns the document with the given primary key, or nil when absent.
func (s *Store) Get(ctx context.Context, docID string) (*core.ImageDoc, error) {
	queryOpt := milvusclient.NewQueryOption(s.collection).
		WithFilter(fmt.Sprintf(`%s == "%s"`, FieldDocID, escapeFilterValue(docID))).
		WithOutputFields(append(outputFields, FieldEmbedding)...).
		WithLimit(1)

	rs, err := s.client.Query(ctx, queryOpt)
	if err != nil {
		return nil, fmt.Errorf("failed to query doc %s: %w", docID, err)
	}
	if rs.ResultCount == 0 {
		return nil, nil
	}

	doc, err := docFromRow(rs.GetColumn, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to decode doc %s: %w", docID, err)
	}
	if col, ok := rs.GetColumn(FieldEmbedding).(*column.ColumnFloatVector); ok && col.Len() > 0 {
		doc.Embedding = col.Data()[0]
	}
	return doc, nil
}

// Upsert writes the document with field-merge semantics: zero-valued fields
// of the incoming document keep whatever the stored document has. Hash and
// embedding land in the same write, so the stored fingerprint always
// describes the bytes the stored vector was computed from.
func (s *Store) Upsert(ctx context.Context, doc *core.ImageDoc) error {
	if doc == nil || doc.DocID == "" {
		return fmt.Errorf("document must carry a doc_id")
	}

	existing, err := s.Get(ctx, doc.DocID)
	if err != nil {
		return err
	}
	merged := MergeDoc(existing, doc)

	if len(merged.Embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension %d does not match collection dimension %d", len(merged.Embedding), s.embeddingDim)
	}

	nameJSON, err := json.Marshal(merged.Name)
	if err != nil {
		return fmt.Errorf("failed to marshal name map: %w", err)
	}

	upsertOpt := milvusclient.NewColumnBasedInsertOption(s.collection,
		column.NewColumnVarChar(FieldDocID, []string{merged.DocID}),
		column.NewColumnInt64(FieldItemID, []int64{merged.ItemID}),
		column.NewColumnVarChar(FieldItemCode, []string{merged.ItemCode}),
		column.NewColumnJSONBytes(FieldName, [][]byte{nameJSON}),
		column.NewColumnVarChar(FieldImageURL, []string{merged.ImageURL}),
		column.NewColumnVarChar(FieldImageHash, []string{merged.ImageHash}),
		column.NewColumnInt64(FieldParentProductID, []int64{merged.ParentProductID}),
		column.NewColumnInt64(FieldLastUpdated, []int64{merged.LastUpdated}),
		column.NewColumnFloatVector(FieldEmbedding, s.embeddingDim, [][]float32{merged.Embedding}),
	)
	if _, err := s.client.Upsert(ctx, upsertOpt); err != nil {
		return fmt.Errorf("failed to upsert doc %s: %w", merged.DocID, err)
	}
	return nil
}

// SearchNearest returns up to limit neighbors ranked by ascending cosine
// distance. Embeddings are not fetched back; results carry metadata only.
func (s *Store) SearchNearest(ctx context.Context, vector []float32, limit int) ([]core.SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	searchOpt := milvusclient.NewSearchOption(s.collection, limit, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldEmbedding).
		WithOutputFields(outputFields...)

	resultSets, err := s.client.Search(ctx, searchOpt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	if len(resultSets) == 0 {
		return []core.SearchResult{}, nil
	}

	rs := resultSets[0]
	results := make([]core.SearchResult, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		doc, err := docFromRow(rs.GetColumn, i)
		if err != nil {
			logger.Warn("Skipping malformed search hit %d: %v", i, err)
			continue
		}
		distance := float32(1.0)
		if i < len(rs.Scores) {
			// Milvus reports cosine similarity; the contract is distance.
			distance = 1.0 - rs.Scores[i]
		}
		results = append(results, core.SearchResult{Doc: *doc, Distance: distance})
	}
	return results, nil
}

// idPageSize is how many rows one id-scan query fetches at a time.
const idPageSize = 16384

// IndexedItemIDs returns the distinct item ids present in the collection.
// The scan is paginated so corpora larger than one query window are still
// counted in full.
func (s *Store) IndexedItemIDs(ctx context.Context) ([]int64, error) {
	return collectDistinctInt64(idPageSize, func(offset, limit int) (column.Column, error) {
		queryOpt := milvusclient.NewQueryOption(s.collection).
			WithFilter(fmt.Sprintf("%s >= 0", FieldItemID)).
			WithOutputFields(FieldItemID).
			WithOffset(offset).
			WithLimit(limit)

		rs, err := s.client.Query(ctx, queryOpt)
		if err != nil {
			return nil, fmt.Errorf("failed to query indexed item ids at offset %d: %w", offset, err)
		}
		return rs.GetColumn(FieldItemID), nil
	})
}

// collectDistinctInt64 pages through fetch until a short or empty page and
// returns the distinct values in first-seen order.
func collectDistinctInt64(pageSize int, fetch func(offset, limit int) (column.Column, error)) ([]int64, error) {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for offset := 0; ; offset += pageSize {
		col, err := fetch(offset, pageSize)
		if err != nil {
			return nil, err
		}
		if col == nil || col.Len() == 0 {
			break
		}
		for i := 0; i < col.Len(); i++ {
			id, err := col.GetAsInt64(i)
			if err != nil {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if col.Len() < pageSize {
			break
		}
	}
	return ids, nil
}

// escapeFilterValue makes a string safe to embed in a quoted filter
// expression.
func escapeFilterValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// docFromRow decodes the metadata fields of one result row.
func docFromRow(getColumn func(string) column.Column, i int) (*core.ImageDoc, error) {
	doc := &core.ImageDoc{}

	str := func(field string) string {
		col := getColumn(field)
		if col == nil || i >= col.Len() {
			return ""
		}
		v, err := col.GetAsString(i)
		if err != nil {
			return ""
		}
		return v
	}
	i64 := func(field string) int64 {
		col := getColumn(field)
		if col == nil || i >= col.Len() {
			return 0
		}
		v, err := col.GetAsInt64(i)
		if err != nil {
			return 0
		}
		return v
	}

	doc.DocID = str(FieldDocID)
	if doc.DocID == "" {
		return nil, fmt.Errorf("row %d has no doc_id", i)
	}
	doc.ItemID = i64(FieldItemID)
	doc.ItemCode = str(FieldItemCode)
	doc.ImageURL = str(FieldImageURL)
	doc.ImageHash = str(FieldImageHash)
	doc.ParentProductID = i64(FieldParentProductID)
	doc.LastUpdated = i64(FieldLastUpdated)

	if nameJSON := str(FieldName); nameJSON != "" {
		var name map[string]string
		if err := json.Unmarshal([]byte(nameJSON), &name); err == nil {
			doc.Name = name
		}
	}
	return doc, nil
}

// MergeDoc applies merge-upsert semantics: fields the incoming document
// leaves zero are preserved from the existing one. The incoming document
// wins when both are set.
func MergeDoc(existing, incoming *core.ImageDoc) *core.ImageDoc {
	if existing == nil {
		return incoming
	}
	merged := *existing
	merged.DocID = incoming.DocID
	if incoming.ItemID != 0 {
		merged.ItemID = incoming.ItemID
	}
	if incoming.ItemCode != "" {
		merged.ItemCode = incoming.ItemCode
	}
	if len(incoming.Name) > 0 {
		merged.Name = incoming.Name
	}
	if incoming.ImageURL != "" {
		merged.ImageURL = incoming.ImageURL
	}
	if incoming.ImageHash != "" {
		merged.ImageHash = incoming.ImageHash
	}
	if len(incoming.Embedding) > 0 {
		merged.Embedding = incoming.Embedding
	}
	if incoming.ParentProductID != 0 {
		merged.ParentProductID = incoming.ParentProductID
	}
	if incoming.LastUpdated != 0 {
		merged.LastUpdated = incoming.LastUpdated
	}
	return &merged
}
