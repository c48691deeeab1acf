// Package vertex wraps the two Google AI backends the pipeline consumes: the
// multimodal embedding model and the vision model used for garment region
// detection.
package vertex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ecom-agents/stylefinder/internal/imageutils"
	"github.com/ecom-agents/stylefinder/internal/logger"
	"golang.org/x/time/rate"
)

const embeddingModel = "multimodalembedding@001"

// ErrBadImage marks input bytes that cannot be wrapped as an image. It is
// distinct from backend transport errors so callers can classify the failure.
var ErrBadImage = errors.New("payload is not a decodable image")

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	Project     string
	Location    string
	AccessToken string
	// Dimension is the requested output dimension. It must match the vector
	// collection's dimension.
	Dimension int
	// RequestsPerSecond throttles predict calls; the embedding backend is
	// the expensive, quota-limited step of the pipeline. Zero disables the
	// throttle.
	RequestsPerSecond float64
	// Endpoint overrides the derived predict URL (used in tests).
	Endpoint string
}

// EmbeddingClient calls the multimodal embedding predict endpoint.
type EmbeddingClient struct {
	endpoint   string
	token      string
	dim        int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewEmbeddingClient creates an embedding client for the given project and
// location.
func NewEmbeddingClient(cfg EmbeddingConfig) *EmbeddingClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(
			"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
			cfg.Location, cfg.Project, cfg.Location, embeddingModel,
		)
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1408
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &EmbeddingClient{
		endpoint: endpoint,
		token:    cfg.AccessToken,
		dim:      dim,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: limiter,
	}
}

// Dimensions returns the configured output dimension.
func (c *EmbeddingClient) Dimensions() int {
	return c.dim
}

type embedInstance struct {
	Image embedImage `json:"image"`
	Text  string     `json:"text,omitempty"`
}

type embedImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type embedParameters struct {
	Dimension int `json:"dimension"`
}

type embedRequest struct {
	Instances  []embedInstance `json:"instances"`
	Parameters embedParameters `json:"parameters"`
}

type embedResponse struct {
	Predictions []struct {
		ImageEmbedding []float32 `json:"imageEmbedding"`
		TextEmbedding  []float32 `json:"textEmbedding"`
	} `json:"predictions"`
}

// Embed returns the dense vector for the image, optionally grounded by a
// contextual text hint. A nil vector with nil error means the backend
// returned no embedding. Undecodable input yields ErrBadImage; transport and
// API errors propagate.
func (c *EmbeddingClient) Embed(ctx context.Context, image []byte, contextText string) ([]float32, error) {
	if !imageutils.Validate(image) {
		return nil, fmt.Errorf("embedding input of %d bytes: %w", len(image), ErrBadImage)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqBody := embedRequest{
		Instances: []embedInstance{{
			Image: embedImage{BytesBase64Encoded: base64.StdEncoding.EncodeToString(image)},
			Text:  contextText,
		}},
		Parameters: embedParameters{Dimension: c.dim},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding predict call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding backend returned status %d: %s", resp.StatusCode, excerpt(data))
	}

	var out embedResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(out.Predictions) == 0 || len(out.Predictions[0].ImageEmbedding) == 0 {
		logger.VertexWarn("Embedding backend returned no image embedding")
		return nil, nil
	}

	vec := out.Predictions[0].ImageEmbedding
	logger.VertexDebug("Generated embedding vector with %d dimensions", len(vec))
	return vec, nil
}

func excerpt(b []byte) string {
	const n = 200
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
