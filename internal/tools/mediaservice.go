package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MediaServiceClient implements MediaGenerator against the media rendering
// service's JSON API.
type MediaServiceClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewMediaServiceClient builds a media client for the given service.
func NewMediaServiceClient(baseURL, apiKey string) *MediaServiceClient {
	return &MediaServiceClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *MediaServiceClient) RetouchImages(ctx context.Context, imageURIs []string) ([]string, error) {
	var out struct {
		URIs []string `json:"uris"`
	}
	err := c.post(ctx, "/v1/retouch", map[string]any{"image_uris": imageURIs}, &out)
	if err != nil {
		return nil, err
	}
	return out.URIs, nil
}

func (c *MediaServiceClient) GenerateCreative(ctx context.Context, brief string) (string, error) {
	return c.postURI(ctx, "/v1/creative", map[string]any{"brief": brief})
}

func (c *MediaServiceClient) GenerateCreativeFromBundle(ctx context.Context, bundleID string) (string, error) {
	return c.postURI(ctx, "/v1/creative/bundle", map[string]any{"bundle_id": bundleID})
}

func (c *MediaServiceClient) GenerateStyle(ctx context.Context, reference string) (string, error) {
	return c.postURI(ctx, "/v1/style", map[string]any{"reference": reference})
}

func (c *MediaServiceClient) VocalTour(ctx context.Context, propertyID string) (string, error) {
	return c.postURI(ctx, "/v1/vocal-tour", map[string]any{"property_id": propertyID})
}

func (c *MediaServiceClient) postURI(ctx context.Context, path string, body map[string]any) (string, error) {
	var out struct {
		URI string `json:"uri"`
	}
	if err := c.post(ctx, path, body, &out); err != nil {
		return "", err
	}
	return out.URI, nil
}

func (c *MediaServiceClient) post(ctx context.Context, path string, body map[string]any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("media service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media service: %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
