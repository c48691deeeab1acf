package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher downloads image bytes over HTTP with a bounded timeout.
type HTTPFetcher struct {
	httpClient *http.Client
}

// NewHTTPFetcher creates a fetcher with a 10s per-request ceiling so one
// slow media server cannot stall the batch.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fetch downloads the payload at url and reports the response content type.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download of %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
