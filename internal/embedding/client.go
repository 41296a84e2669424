// Package embedding is the gateway to the external embedding model. It
// turns a text blob into a fixed-length vector and nothing else: retry
// policy lives in the review orchestrator.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joelkehle/patent-review/internal/patentreview"
)

type Config struct {
	Endpoint   string
	Deployment string
	APIKey     string
	APIVersion string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Deployment = strings.TrimSpace(cfg.Deployment)
	if cfg.Endpoint == "" {
		return nil, errors.New("embedding endpoint not configured")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("embedding api key not configured")
	}
	if cfg.Deployment == "" {
		return nil, errors.New("embedding deployment not configured")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-01"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg}, nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text. Empty or whitespace-only
// input fails with empty_input before any network call is made.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, patentreview.NewError(patentreview.KindEmptyInput, "embedding input is empty")
	}

	body, err := json.Marshal(embeddingRequest{Input: []string{text}})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s", c.cfg.Endpoint, c.cfg.Deployment, c.cfg.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, patentreview.WrapError(patentreview.KindUpstreamUnavailable, "embedding request failed", err)
	}
	defer resp.Body.Close()
	blob, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, patentreview.WrapError(patentreview.KindUpstreamUnavailable, "embedding response read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, patentreview.NewError(patentreview.KindUpstreamUnavailable,
			fmt.Sprintf("embedding backend returned status %d", resp.StatusCode))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, patentreview.WrapError(patentreview.KindUpstreamUnavailable, "embedding response parse failed", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, patentreview.NewError(patentreview.KindUpstreamUnavailable, "embedding backend returned no vector")
	}
	return parsed.Data[0].Embedding, nil
}
