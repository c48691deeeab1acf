package vecstore

import (
	"testing"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDocNoExisting(t *testing.T) {
	incoming := &core.ImageDoc{DocID: "12_0", ImageHash: "abc"}
	assert.Same(t, incoming, MergeDoc(nil, incoming))
}

func TestMergeDocPreservesUnsetFields(t *testing.T) {
	existing := &core.ImageDoc{
		DocID:           "12_0",
		ItemID:          12,
		ItemCode:        "STG-12",
		Name:            map[string]string{"nl-NL": "Trui"},
		ImageURL:        "https://cdn.example/12.jpg",
		ImageHash:       "oldhash",
		Embedding:       []float32{1, 2, 3},
		ParentProductID: 99,
		LastUpdated:     100,
	}
	incoming := &core.ImageDoc{
		DocID:       "12_0",
		ImageHash:   "newhash",
		Embedding:   []float32{4, 5, 6},
		LastUpdated: 200,
	}

	merged := MergeDoc(existing, incoming)

	// Updated fields.
	assert.Equal(t, "newhash", merged.ImageHash)
	assert.Equal(t, []float32{4, 5, 6}, merged.Embedding)
	assert.Equal(t, int64(200), merged.LastUpdated)

	// Fields the incoming doc left zero are preserved, not cleared.
	assert.Equal(t, int64(12), merged.ItemID)
	assert.Equal(t, "STG-12", merged.ItemCode)
	assert.Equal(t, "Trui", merged.Name["nl-NL"])
	assert.Equal(t, "https://cdn.example/12.jpg", merged.ImageURL)
	assert.Equal(t, int64(99), merged.ParentProductID)

	// Inputs are not mutated.
	require.Equal(t, "oldhash", existing.ImageHash)
}

func TestMergeDocIncomingWins(t *testing.T) {
	existing := &core.ImageDoc{DocID: "a", ItemCode: "old", Name: map[string]string{"en-GB": "Old"}}
	incoming := &core.ImageDoc{DocID: "a", ItemCode: "new", Name: map[string]string{"en-GB": "New"}}

	merged := MergeDoc(existing, incoming)
	assert.Equal(t, "new", merged.ItemCode)
	assert.Equal(t, "New", merged.Name["en-GB"])
}
