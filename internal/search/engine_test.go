package search

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/ecom-agents/stylefinder/internal/logger"
)

func init() {
	logger.Init(false)
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type stubEmbedder struct {
	calls     int
	lastImage []byte
	lastText  string
	err       error
	nilVector bool
}

func (e *stubEmbedder) Embed(_ context.Context, img []byte, text string) ([]float32, error) {
	e.calls++
	e.lastImage = img
	e.lastText = text
	if e.err != nil {
		return nil, e.err
	}
	if e.nilVector {
		return nil, nil
	}
	return []float32{0.5, 0.5, 0, 0}, nil
}

func (e *stubEmbedder) Dimensions() int { return 4 }

type stubStore struct {
	results   []core.SearchResult
	lastLimit int
}

func (s *stubStore) Get(context.Context, string) (*core.ImageDoc, error) { return nil, nil }
func (s *stubStore) Upsert(context.Context, *core.ImageDoc) error        { return nil }
func (s *stubStore) IndexedItemIDs(context.Context) ([]int64, error)     { return nil, nil }

func (s *stubStore) SearchNearest(_ context.Context, _ []float32, limit int) ([]core.SearchResult, error) {
	s.lastLimit = limit
	if len(s.results) > limit {
		return s.results[:limit], nil
	}
	return s.results, nil
}

type stubDetector struct {
	regions []core.DetectedRegion
	calls   int
}

func (d *stubDetector) DetectRegions(context.Context, []byte) []core.DetectedRegion {
	d.calls++
	return d.regions
}

func result(docID string, distance float32) core.SearchResult {
	return core.SearchResult{
		Doc: core.ImageDoc{
			DocID:     docID,
			ItemID:    1,
			Embedding: []float32{1, 2, 3, 4},
		},
		Distance: distance,
	}
}

func TestSearchFiltersByDistanceThreshold(t *testing.T) {
	store := &stubStore{results: []core.SearchResult{
		result("1_0", 0.10),
		result("2_0", 0.55),
		result("3_0", 0.72),
	}}
	engine := NewEngine(Config{Embedder: &stubEmbedder{}, Store: store})

	outcome, err := engine.Search(context.Background(), Query{Image: pngImage(t, 100, 100), Text: "trui"})
	require.NoError(t, err)
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, "1_0", outcome.Results[0].Doc.DocID)
	assert.Equal(t, "2_0", outcome.Results[1].Doc.DocID)
	for _, r := range outcome.Results {
		assert.Nil(t, r.Doc.Embedding)
	}
	assert.Equal(t, defaultResultLimit, store.lastLimit)
}

func TestSearchHonorsCustomThresholdAndLimit(t *testing.T) {
	store := &stubStore{results: []core.SearchResult{
		result("1_0", 0.10),
		result("2_0", 0.55),
	}}
	engine := NewEngine(Config{Embedder: &stubEmbedder{}, Store: store, DistanceThreshold: 0.3})

	outcome, err := engine.Search(context.Background(), Query{Image: pngImage(t, 100, 100), Text: "trui", Limit: 2})
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "1_0", outcome.Results[0].Doc.DocID)
	assert.Equal(t, 2, store.lastLimit)
}

func TestSearchQueryTextPicksRegion(t *testing.T) {
	original := pngImage(t, 200, 600)
	detector := &stubDetector{regions: []core.DetectedRegion{
		{Label: "sweater", Box: [4]int{0, 0, 500, 1000}},
		{Label: "pants", Box: [4]int{500, 0, 1000, 1000}},
	}}
	embedder := &stubEmbedder{}
	store := &stubStore{results: []core.SearchResult{result("1_0", 0.2)}}
	engine := NewEngine(Config{Embedder: embedder, Store: store, Detector: detector})

	// "broek" matches the pants label only through the synonym table.
	outcome, err := engine.Search(context.Background(), Query{Image: original, Text: "broek", AutoDetect: true})
	require.NoError(t, err)
	assert.False(t, outcome.NeedsChoice)
	assert.True(t, outcome.WasCropped)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "broek", embedder.lastText)
	assert.NotEqual(t, original, embedder.lastImage)
}

func TestSearchAsksForChoiceWhenNothingMatches(t *testing.T) {
	detector := &stubDetector{regions: []core.DetectedRegion{
		{Label: "sweater", Box: [4]int{0, 0, 500, 1000}},
		{Label: "pants", Box: [4]int{500, 0, 1000, 1000}},
	}}
	embedder := &stubEmbedder{}
	engine := NewEngine(Config{Embedder: embedder, Store: &stubStore{}, Detector: detector})

	outcome, err := engine.Search(context.Background(), Query{Image: pngImage(t, 200, 200), AutoDetect: true})
	require.NoError(t, err)
	assert.True(t, outcome.NeedsChoice)
	assert.Len(t, outcome.Regions, 2)
	assert.Empty(t, outcome.Results)
	assert.Equal(t, 0, embedder.calls)
}

func TestSearchCropsSingleRegion(t *testing.T) {
	original := pngImage(t, 200, 600)
	detector := &stubDetector{regions: []core.DetectedRegion{
		{Label: "sweater", Box: [4]int{100, 100, 900, 900}},
	}}
	embedder := &stubEmbedder{}
	engine := NewEngine(Config{Embedder: embedder, Store: &stubStore{}, Detector: detector})

	outcome, err := engine.Search(context.Background(), Query{Image: original, Text: "trui", AutoDetect: true})
	require.NoError(t, err)
	assert.True(t, outcome.WasCropped)
	assert.NotEqual(t, original, embedder.lastImage)
}

func TestSearchUsesFullImageWithoutRegions(t *testing.T) {
	original := pngImage(t, 200, 200)
	detector := &stubDetector{}
	embedder := &stubEmbedder{}
	engine := NewEngine(Config{Embedder: embedder, Store: &stubStore{}, Detector: detector})

	outcome, err := engine.Search(context.Background(), Query{Image: original, AutoDetect: true})
	require.NoError(t, err)
	assert.Equal(t, 1, detector.calls)
	assert.False(t, outcome.WasCropped)
	assert.Equal(t, original, embedder.lastImage)
}

func TestSearchDetectsOnTallImages(t *testing.T) {
	tall := pngImage(t, 100, 300)
	detector := &stubDetector{regions: []core.DetectedRegion{
		{Label: "sweater", Box: [4]int{0, 0, 500, 1000}},
	}}
	engine := NewEngine(Config{Embedder: &stubEmbedder{}, Store: &stubStore{}, Detector: detector})

	// Text alone does not suppress detection when the image is tall.
	outcome, err := engine.Search(context.Background(), Query{Image: tall, Text: "trui", AutoDetect: true})
	require.NoError(t, err)
	assert.Equal(t, 1, detector.calls)
	assert.True(t, outcome.WasCropped)
}

func TestSearchSkipsDetectionForRegularPhotosWithText(t *testing.T) {
	detector := &stubDetector{regions: []core.DetectedRegion{
		{Label: "sweater", Box: [4]int{0, 0, 500, 1000}},
	}}
	embedder := &stubEmbedder{}
	engine := NewEngine(Config{Embedder: embedder, Store: &stubStore{}, Detector: detector})

	// A plain product photo with a text hint embeds as-is even when
	// detection is enabled.
	outcome, err := engine.Search(context.Background(), Query{Image: pngImage(t, 200, 200), Text: "trui", AutoDetect: true})
	require.NoError(t, err)
	assert.Equal(t, 0, detector.calls)
	assert.False(t, outcome.WasCropped)
}

func TestSearchNeverDetectsWhenDisabled(t *testing.T) {
	detector := &stubDetector{regions: []core.DetectedRegion{
		{Label: "sweater", Box: [4]int{0, 0, 500, 1000}},
		{Label: "pants", Box: [4]int{500, 0, 1000, 1000}},
	}}
	embedder := &stubEmbedder{}
	engine := NewEngine(Config{Embedder: embedder, Store: &stubStore{}, Detector: detector})

	// Empty text and a tall image would both warrant detection, but the
	// caller turned it off, so the full image is searched directly.
	for _, q := range []Query{
		{Image: pngImage(t, 200, 200)},
		{Image: pngImage(t, 100, 300), Text: "trui"},
	} {
		outcome, err := engine.Search(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, 0, detector.calls)
		assert.False(t, outcome.NeedsChoice)
		assert.False(t, outcome.WasCropped)
		assert.Equal(t, q.Image, embedder.lastImage)
	}
}

func TestSearchEmbedFailure(t *testing.T) {
	engine := NewEngine(Config{Embedder: &stubEmbedder{err: fmt.Errorf("backend down")}, Store: &stubStore{}})
	_, err := engine.Search(context.Background(), Query{Image: pngImage(t, 100, 100), Text: "trui"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	engine = NewEngine(Config{Embedder: &stubEmbedder{nilVector: true}, Store: &stubStore{}})
	_, err = engine.Search(context.Background(), Query{Image: pngImage(t, 100, 100), Text: "trui"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vector")
}

func TestSearchEmptyStore(t *testing.T) {
	engine := NewEngine(Config{Embedder: &stubEmbedder{}, Store: &stubStore{}})
	outcome, err := engine.Search(context.Background(), Query{Image: pngImage(t, 100, 100), Text: "trui"})
	require.NoError(t, err)
	assert.Empty(t, outcome.Results)
	assert.False(t, outcome.NeedsChoice)
}

func TestSearchBudget(t *testing.T) {
	budget := NewBudget(1)
	engine := NewEngine(Config{Embedder: &stubEmbedder{}, Store: &stubStore{}, Budget: budget})

	_, err := engine.Search(context.Background(), Query{Image: pngImage(t, 100, 100), Text: "trui"})
	require.NoError(t, err)
	assert.Equal(t, 0, budget.Remaining())

	_, err = engine.Search(context.Background(), Query{Image: pngImage(t, 100, 100), Text: "trui"})
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestNilBudgetIsUnlimited(t *testing.T) {
	var budget *Budget
	assert.True(t, budget.Take())
	assert.Equal(t, -1, budget.Remaining())

	engine := NewEngine(Config{Embedder: &stubEmbedder{}, Store: &stubStore{}})
	for i := 0; i < 3; i++ {
		_, err := engine.Search(context.Background(), Query{Image: pngImage(t, 100, 100), Text: "trui"})
		require.NoError(t, err)
	}
}

func TestPickRegion(t *testing.T) {
	regions := []core.DetectedRegion{
		{Label: "pants", Description: "blue denim jeans"},
		{Label: "sweater", Description: "red knitted sweater"},
		{Label: "sweater", Description: "green wool sweater"},
	}

	t.Run("direct label match", func(t *testing.T) {
		r, ok := pickRegion(regions, "sweater", DefaultSynonyms)
		require.True(t, ok)
		assert.Equal(t, "red knitted sweater", r.Description)
	})

	t.Run("label match beats description match", func(t *testing.T) {
		// "denim" only appears in a description; "pants" is a label.
		r, ok := pickRegion(regions, "pants", DefaultSynonyms)
		require.True(t, ok)
		assert.Equal(t, "pants", r.Label)
	})

	t.Run("description match", func(t *testing.T) {
		r, ok := pickRegion(regions, "denim", DefaultSynonyms)
		require.True(t, ok)
		assert.Equal(t, "blue denim jeans", r.Description)
	})

	t.Run("synonym match", func(t *testing.T) {
		r, ok := pickRegion(regions, "trui", DefaultSynonyms)
		require.True(t, ok)
		assert.Equal(t, "sweater", r.Label)
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := pickRegion(regions, "schoenen", DefaultSynonyms)
		assert.False(t, ok)
	})

	t.Run("empty query", func(t *testing.T) {
		_, ok := pickRegion(regions, "", DefaultSynonyms)
		assert.False(t, ok)
	})
}
