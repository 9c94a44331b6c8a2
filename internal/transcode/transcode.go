// Package transcode is the client for the transcoding collaborator. The
// service ingests a readable source URL and returns a playback identifier;
// cutroom only persists that identifier and a processing flag, it never
// transcodes anything itself.
package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type ingestRequest struct {
	SourceURL string `json:"sourceUrl"`
}

type ingestResponse struct {
	PlaybackID string `json:"playbackId"`
}

// Ingest submits a source URL for transcoding and returns the playback id
// assigned by the service. Transcoding completes asynchronously on the
// service side; the returned id is valid immediately for persistence.
func (c *Client) Ingest(ctx context.Context, sourceURL string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("transcoder not configured")
	}

	body, err := json.Marshal(ingestRequest{SourceURL: sourceURL})
	if err != nil {
		return "", fmt.Errorf("marshal ingest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ingest", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ingest request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("transcoder returned status %d", resp.StatusCode)
	}

	var out ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ingest response: %w", err)
	}
	if out.PlaybackID == "" {
		return "", fmt.Errorf("transcoder returned empty playback id")
	}
	return out.PlaybackID, nil
}
