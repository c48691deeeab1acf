package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func embedderBackedBy(t *testing.T, handler http.HandlerFunc) *EmbeddingClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewEmbeddingClient(EmbeddingConfig{
		AccessToken: "tok",
		Dimension:   8,
		Endpoint:    srv.URL,
	})
}

func TestEmbed(t *testing.T) {
	var gotReq embedRequest
	c := embedderBackedBy(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"predictions": []map[string]interface{}{
				{"imageEmbedding": []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}},
			},
		}))
	})

	vec, err := c.Embed(context.Background(), tinyPNG(t), "groene broek")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	require.Len(t, gotReq.Instances, 1)
	assert.Equal(t, "groene broek", gotReq.Instances[0].Text)
	assert.NotEmpty(t, gotReq.Instances[0].Image.BytesBase64Encoded)
	assert.Equal(t, 8, gotReq.Parameters.Dimension)
}

func TestEmbedNoEmbeddingIsNilNotError(t *testing.T) {
	c := embedderBackedBy(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"predictions": []map[string]interface{}{},
		}))
	})

	vec, err := c.Embed(context.Background(), tinyPNG(t), "")
	require.NoError(t, err)
	assert.Nil(t, vec)
}

func TestEmbedBadImageTyped(t *testing.T) {
	c := embedderBackedBy(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend must not be called for undecodable input")
	})

	_, err := c.Embed(context.Background(), []byte("not an image"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadImage)
}

func TestEmbedBackendErrorPropagates(t *testing.T) {
	c := embedderBackedBy(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	})

	_, err := c.Embed(context.Background(), tinyPNG(t), "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadImage)
}

func TestDimensionsDefault(t *testing.T) {
	c := NewEmbeddingClient(EmbeddingConfig{Project: "p", Location: "europe-west1"})
	assert.Equal(t, 1408, c.Dimensions())
}
