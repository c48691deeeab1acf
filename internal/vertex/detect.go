package vertex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ecom-agents/stylefinder/internal/core"
	"github.com/ecom-agents/stylefinder/internal/logger"
)

const defaultDetectorModel = "gemini-2.5-flash"

const detectionPrompt = `Detect every distinct clothing item and accessory in this image. ` +
	`Ignore people, backgrounds and UI elements. Respond with a JSON array where each entry has: ` +
	`"label" (short English category like "sweater", "pants", "blazer", "bag"), ` +
	`"box_2d" (bounding box as [ymin, xmin, ymax, xmax] with coordinates normalized to 0-1000), ` +
	`"description" (one short sentence: color, material, notable details). ` +
	`Respond with the JSON array only.`

// DetectorConfig configures the region detector client.
type DetectorConfig struct {
	APIKey string
	Model  string
	// Endpoint overrides the derived generateContent URL (used in tests).
	Endpoint string
}

// DetectorClient asks a vision model for labeled garment regions.
type DetectorClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewDetectorClient creates a region detector client.
func NewDetectorClient(cfg DetectorConfig) *DetectorClient {
	model := cfg.Model
	if model == "" {
		model = defaultDetectorModel
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", model)
	}
	return &DetectorClient{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type generatePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *generateInline `json:"inline_data,omitempty"`
}

type generateInline struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateRequest struct {
	Contents []struct {
		Parts []generatePart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string `json:"response_mime_type"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []generatePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type regionPayload struct {
	Label       string `json:"label"`
	Box2D       []int  `json:"box_2d"`
	Description string `json:"description"`
}

// DetectRegions proposes garment/accessory regions for the image. Detection
// is advisory: backend failures and malformed model output both yield an
// empty slice, never an error, and the caller proceeds with the full image.
func (c *DetectorClient) DetectRegions(ctx context.Context, image []byte) []core.DetectedRegion {
	var req generateRequest
	req.Contents = make([]struct {
		Parts []generatePart `json:"parts"`
	}, 1)
	req.Contents[0].Parts = []generatePart{
		{InlineData: &generateInline{
			MimeType: http.DetectContentType(image),
			Data:     base64.StdEncoding.EncodeToString(image),
		}},
		{Text: detectionPrompt},
	}
	req.GenerationConfig.ResponseMimeType = "application/json"

	payload, err := json.Marshal(req)
	if err != nil {
		logger.VertexWarn("Detection request marshal failed: %v", err)
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		logger.VertexWarn("Detection request build failed: %v", err)
		return nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.VertexWarn("Detection backend unavailable, proceeding without regions: %v", err)
		return nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.VertexWarn("Detection response read failed: %v", err)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		logger.VertexWarn("Detection backend returned status %d: %s", resp.StatusCode, excerpt(data))
		return nil
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		logger.VertexWarn("Detection response decode failed: %v", err)
		return nil
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil
	}

	regions := ParseRegions(out.Candidates[0].Content.Parts[0].Text)
	logger.VertexDebug("Detector proposed %d regions", len(regions))
	return regions
}

// ParseRegions normalizes the model's structured output into regions. Vision
// models routinely wrap JSON in code fences or prose; anything that still
// fails to parse yields an empty slice.
func ParseRegions(text string) []core.DetectedRegion {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}

	var payload []regionPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		logger.VertexWarn("Detector output is not a region list: %v", err)
		return nil
	}

	regions := make([]core.DetectedRegion, 0, len(payload))
	for _, p := range payload {
		if p.Label == "" || len(p.Box2D) != 4 {
			continue
		}
		var box [4]int
		for i, v := range p.Box2D {
			box[i] = clampCoord(v)
		}
		regions = append(regions, core.DetectedRegion{
			Label:       p.Label,
			Description: p.Description,
			Box:         box,
		})
	}
	return regions
}

func clampCoord(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}
