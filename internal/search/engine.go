// Package search answers visual queries against the indexed catalog. A query
// image is optionally narrowed to a detected garment region, embedded with
// the text hint, and matched against the vector collection by cosine
// distance.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/ecom-agents/stylefinder/internal/imageutils"
	"github.com/ecom-agents/stylefinder/internal/logger"
)

const (
	// DefaultDistanceThreshold is the cosine distance above which a neighbor
	// is considered unrelated and dropped.
	DefaultDistanceThreshold = 0.6

	// defaultResultLimit caps the result list when the query does not set one.
	defaultResultLimit = 5

	// tallAspectRatio is the height/width ratio above which a query image is
	// assumed to show a full outfit and region detection kicks in.
	tallAspectRatio = 1.25
)

// ErrBudgetExhausted is returned when the session's search budget ran out.
var ErrBudgetExhausted = errors.New("search budget exhausted")

// Budget limits how many searches a session may run. A nil *Budget means
// unlimited.
type Budget struct {
	mu        sync.Mutex
	remaining int
}

// NewBudget creates a budget allowing n searches.
func NewBudget(n int) *Budget {
	return &Budget{remaining: n}
}

// Take consumes one search from the budget and reports whether one was left.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Remaining returns the number of searches left, or -1 for a nil (unlimited)
// budget.
func (b *Budget) Remaining() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Config wires the search engine's collaborators.
type Config struct {
	Embedder core.EmbedService
	Store    core.VectorStore
	// Detector is optional; without one every query embeds the full image.
	Detector core.RegionDetector
	// Synonyms maps query terms to detector label equivalents. Nil uses
	// DefaultSynonyms.
	Synonyms map[string][]string
	// DistanceThreshold overrides DefaultDistanceThreshold when positive.
	DistanceThreshold float32
	// Budget caps the number of searches; nil means unlimited.
	Budget *Budget
}

// Engine executes visual searches.
type Engine struct {
	embedder  core.EmbedService
	store     core.VectorStore
	detector  core.RegionDetector
	synonyms  map[string][]string
	threshold float32
	budget    *Budget
}

// Query is one visual search request.
type Query struct {
	// Image is the raw query image.
	Image []byte
	// Text is the optional textual hint, e.g. "rode trui".
	Text string
	// Limit caps the result list; zero means the engine default.
	Limit int
	// AutoDetect allows region detection. Detection then actually runs only
	// for tall images or when Text is empty.
	AutoDetect bool
}

// Outcome is the result of one search. When NeedsChoice is set the detector
// found several garments and the query text picked none of them; Regions
// lists the candidates and Results is empty.
type Outcome struct {
	Results     []core.SearchResult
	Regions     []core.DetectedRegion
	NeedsChoice bool
	WasCropped  bool
}

// NewEngine creates a search engine.
func NewEngine(cfg Config) *Engine {
	synonyms := cfg.Synonyms
	if synonyms == nil {
		synonyms = DefaultSynonyms
	}
	threshold := cfg.DistanceThreshold
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}
	return &Engine{
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		detector:  cfg.Detector,
		synonyms:  synonyms,
		threshold: threshold,
		budget:    cfg.Budget,
	}
}

// Search runs one visual query.
func (e *Engine) Search(ctx context.Context, q Query) (*Outcome, error) {
	if len(q.Image) == 0 {
		return nil, fmt.Errorf("query image is empty")
	}
	if e.budget != nil && !e.budget.Take() {
		return nil, ErrBudgetExhausted
	}

	queryText := strings.TrimSpace(q.Text)
	target := q.Image
	outcome := &Outcome{}

	if e.shouldDetect(q, queryText) {
		regions := e.detector.DetectRegions(ctx, q.Image)
		outcome.Regions = regions
		switch {
		case len(regions) == 0:
			logger.SearchDebug("No regions detected, searching with the full image")
		case len(regions) == 1:
			logger.SearchDebug("One region detected (%s), cropping to it", regions[0].Label)
			target = imageutils.CropToBox(q.Image, regions[0].Box, imageutils.DefaultCropMargin)
			outcome.WasCropped = true
		default:
			region, ok := pickRegion(regions, queryText, e.synonyms)
			if !ok {
				// Several garments and nothing to choose by. Hand the
				// candidates back instead of guessing.
				logger.SearchInfo("Detected %d regions, query %q matched none", len(regions), queryText)
				outcome.NeedsChoice = true
				return outcome, nil
			}
			logger.SearchDebug("Query %q matched region %q", queryText, region.Label)
			target = imageutils.CropToBox(q.Image, region.Box, imageutils.DefaultCropMargin)
			outcome.WasCropped = true
		}
	}

	vector, err := e.embedder.Embed(ctx, target, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query image: %w", err)
	}
	if vector == nil {
		return nil, fmt.Errorf("embedding backend returned no vector for the query image")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultResultLimit
	}
	neighbors, err := e.store.SearchNearest(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	for _, n := range neighbors {
		if n.Distance > e.threshold {
			logger.SearchDebug("Dropping %s at distance %.3f (threshold %.2f)", n.Doc.DocID, n.Distance, e.threshold)
			continue
		}
		// The embedding is dead weight for callers.
		n.Doc.Embedding = nil
		outcome.Results = append(outcome.Results, n)
	}
	logger.SearchInfo("Search returned %d/%d results within threshold", len(outcome.Results), len(neighbors))
	return outcome, nil
}

// shouldDetect decides whether to run region detection. Detection must be
// enabled by the caller, and even then it only runs when the image warrants
// it: a tall image that likely shows a whole outfit, or no text to
// disambiguate with. A plain product photo with a text hint embeds as-is.
func (e *Engine) shouldDetect(q Query, queryText string) bool {
	if e.detector == nil || !q.AutoDetect {
		return false
	}
	return queryText == "" || imageutils.IsTall(q.Image, tallAspectRatio)
}

// pickRegion selects the detected region the query text refers to. Matching
// is tiered: direct label match first, then description, then the synonym
// table. Within a tier, detector order wins.
func pickRegion(regions []core.DetectedRegion, queryText string, synonyms map[string][]string) (core.DetectedRegion, bool) {
	if queryText == "" {
		return core.DetectedRegion{}, false
	}
	query := strings.ToLower(queryText)

	for _, r := range regions {
		label := strings.ToLower(r.Label)
		if label != "" && (strings.Contains(label, query) || strings.Contains(query, label)) {
			return r, true
		}
	}
	for _, r := range regions {
		if desc := strings.ToLower(r.Description); desc != "" && strings.Contains(desc, query) {
			return r, true
		}
	}
	for _, term := range strings.Fields(query) {
		expansions := synonymsFor(synonyms, term)
		for _, r := range regions {
			label := strings.ToLower(r.Label)
			desc := strings.ToLower(r.Description)
			for _, syn := range expansions {
				syn = strings.ToLower(syn)
				if strings.Contains(label, syn) || (desc != "" && strings.Contains(desc, syn)) {
					return r, true
				}
			}
		}
	}
	return core.DetectedRegion{}, false
}
