// Package inriver is the catalog source adapter for the inRiver PIM. It
// resolves the matching item set through the query API, then assembles each
// item from its fields, its parent product (inbound ProductItem link) and its
// media resources (outbound ItemResource links).
package inriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/ecom-agents/stylefinder/internal/logger"
)

const (
	apiPrefix = "/api/v1.0.0"

	linkTypeProductItem  = "ProductItem"
	linkTypeItemResource = "ItemResource"

	fieldItemNumber   = "ItemNumber"
	fieldProductName  = "ProductNameCommercial"
	fieldFormula      = "ItemBusinessFormula"
	fieldSeasonYear   = "ItemSeasonYear"
	entityTypeItem    = "Item"
	defaultMaxWorkers = 10
)

// Client talks to the inRiver REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	workers    int
}

// NewClient creates an inRiver client. Each request is bounded by a 10s
// timeout so one hanging entity cannot stall a whole page fetch.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		workers: defaultMaxWorkers,
	}
}

type queryCriterion struct {
	Type        string      `json:"type,omitempty"`
	FieldTypeID string      `json:"fieldTypeId,omitempty"`
	Value       interface{} `json:"value"`
	Operator    string      `json:"operator"`
}

type queryRequest struct {
	SystemCriteria []queryCriterion `json:"systemCriteria"`
	DataCriteria   []queryCriterion `json:"dataCriteria,omitempty"`
}

type queryResponse struct {
	Count     int     `json:"count"`
	EntityIDs []int64 `json:"entityIds"`
}

type fieldValue struct {
	FieldTypeID string          `json:"fieldTypeId"`
	Value       json.RawMessage `json:"value"`
}

type entityLink struct {
	LinkTypeID     string `json:"linkTypeId"`
	SourceEntityID int64  `json:"sourceEntityId"`
	TargetEntityID int64  `json:"targetEntityId"`
}

type mediaDetail struct {
	URL string `json:"url"`
}

// GetMatchingIDs resolves the full ordered set of item ids for the filter.
func (c *Client) GetMatchingIDs(ctx context.Context, filters core.ItemFilters) ([]int64, error) {
	resp, err := c.query(ctx, filters)
	if err != nil {
		return nil, err
	}
	return resp.EntityIDs, nil
}

// GetTotalCount returns how many items match the filter.
func (c *Client) GetTotalCount(ctx context.Context, filters core.ItemFilters) (int, error) {
	resp, err := c.query(ctx, filters)
	if err != nil {
		return 0, err
	}
	if resp.Count > 0 {
		return resp.Count, nil
	}
	return len(resp.EntityIDs), nil
}

// GetItems fetches the [offset, offset+limit) slice of the matching catalog.
// An empty slice past the end signals exhaustion. Per-item failures are
// logged and excluded; one bad entity never aborts the page.
func (c *Client) GetItems(ctx context.Context, offset, limit int, filters core.ItemFilters) ([]core.CatalogItem, error) {
	resp, err := c.query(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to query matching items: %w", err)
	}

	ids := resp.EntityIDs
	if offset >= len(ids) {
		return []core.CatalogItem{}, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	pageIDs := ids[offset:end]

	// Each item needs several dependent round trips (fields, parent link,
	// media links, media detail), so the page fans out over a bounded pool.
	slots := make([]*core.CatalogItem, len(pageIDs))
	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	for i, id := range pageIDs {
		wg.Add(1)
		go func(pos int, entityID int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item, err := c.fetchItem(ctx, entityID)
			if err != nil {
				logger.InRiverWarn("Failed to fetch entity %d: %v", entityID, err)
				return
			}
			slots[pos] = item
		}(i, id)
	}
	wg.Wait()

	items := make([]core.CatalogItem, 0, len(pageIDs))
	for _, it := range slots {
		if it != nil {
			items = append(items, *it)
		}
	}
	logger.InRiverDebug("Fetched %d/%d items for page offset=%d", len(items), len(pageIDs), offset)
	return items, nil
}

func (c *Client) query(ctx context.Context, filters core.ItemFilters) (*queryResponse, error) {
	req := queryRequest{
		SystemCriteria: []queryCriterion{
			{Type: "EntityTypeId", Value: entityTypeItem, Operator: "Equal"},
		},
	}
	if filters.BusinessFormula != "" {
		req.DataCriteria = append(req.DataCriteria, queryCriterion{
			FieldTypeID: fieldFormula, Value: filters.BusinessFormula, Operator: "Equal",
		})
	}
	if filters.MinSeasonYear > 0 {
		req.DataCriteria = append(req.DataCriteria, queryCriterion{
			FieldTypeID: fieldSeasonYear, Value: filters.MinSeasonYear, Operator: "GreaterThanOrEqual",
		})
	}

	var resp queryResponse
	if err := c.postJSON(ctx, apiPrefix+"/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// fetchItem assembles one CatalogItem: own fields, parent product fields via
// the inbound ProductItem link, and image URLs via outbound ItemResource
// links and their media details.
func (c *Client) fetchItem(ctx context.Context, entityID int64) (*core.CatalogItem, error) {
	fields, err := c.entityFields(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("fields for entity %d: %w", entityID, err)
	}

	item := &core.CatalogItem{
		EntityID:   entityID,
		ItemFields: fields,
	}

	// Parent product (best effort, one hop up).
	if parentID := c.parentProductID(ctx, entityID); parentID != 0 {
		productFields, err := c.entityFields(ctx, parentID)
		if err != nil {
			logger.InRiverDebug("Parent fields for entity %d unavailable: %v", entityID, err)
		} else {
			item.ProductFields = core.ProductFields{
				EntityID: parentID,
				Name:     localizedString(productFields[fieldProductName]),
				Fields:   productFields,
			}
		}
	}

	// Media (best effort, up to two hops: item -> resource -> media detail).
	item.ImageURLs = c.imageURLs(ctx, entityID)
	return item, nil
}

func (c *Client) entityFields(ctx context.Context, entityID int64) (map[string]interface{}, error) {
	var list []fieldValue
	path := fmt.Sprintf("%s/entities/%d/summary/fields", apiPrefix, entityID)
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}

	fields := make(map[string]interface{}, len(list))
	for _, f := range list {
		if f.FieldTypeID == "" {
			continue
		}
		var v interface{}
		if len(f.Value) > 0 {
			if err := json.Unmarshal(f.Value, &v); err != nil {
				continue
			}
		}
		fields[f.FieldTypeID] = v
	}
	return fields, nil
}

func (c *Client) parentProductID(ctx context.Context, entityID int64) int64 {
	links, err := c.entityLinks(ctx, entityID, "inbound")
	if err != nil {
		logger.InRiverDebug("Inbound links for entity %d unavailable: %v", entityID, err)
		return 0
	}
	for _, l := range links {
		if l.LinkTypeID == linkTypeProductItem {
			return l.SourceEntityID
		}
	}
	return 0
}

func (c *Client) imageURLs(ctx context.Context, entityID int64) []string {
	links, err := c.entityLinks(ctx, entityID, "outbound")
	if err != nil {
		logger.InRiverDebug("Outbound links for entity %d unavailable: %v", entityID, err)
		return nil
	}

	var urls []string
	seen := make(map[string]struct{})
	for _, l := range links {
		if l.LinkTypeID != linkTypeItemResource {
			continue
		}
		var media []mediaDetail
		path := fmt.Sprintf("%s/entities/%d/mediadetails", apiPrefix, l.TargetEntityID)
		if err := c.getJSON(ctx, path, &media); err != nil {
			logger.InRiverDebug("Media details for resource %d unavailable: %v", l.TargetEntityID, err)
			continue
		}
		for _, m := range media {
			if m.URL == "" {
				continue
			}
			if _, dup := seen[m.URL]; dup {
				continue
			}
			seen[m.URL] = struct{}{}
			urls = append(urls, m.URL)
		}
	}
	return urls
}

func (c *Client) entityLinks(ctx context.Context, entityID int64, direction string) ([]entityLink, error) {
	var links []entityLink
	path := fmt.Sprintf("%s/entities/%d/links?linkDirection=%s", apiPrefix, entityID, direction)
	if err := c.getJSON(ctx, path, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("X-inRiver-APIKey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inRiver API returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return json.Unmarshal(data, out)
}

// localizedString coerces an inRiver LocaleString value (a locale -> string
// object on the wire) into a flat map. Plain strings become a single "_"
// entry so callers always see a map.
func localizedString(v interface{}) map[string]string {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]string, len(val))
		for locale, s := range val {
			if str, ok := s.(string); ok {
				out[locale] = str
			}
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return map[string]string{"_": val}
	default:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
