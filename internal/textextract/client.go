// Package textextract is the boundary to the external document-text
// extraction (OCR) service, consumed once per session when the input
// arrives as a PDF rather than as structured fields.
package textextract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joelkehle/patent-review/internal/patentreview"
)

const MediaTypePDF = "application/pdf"

type Config struct {
	BaseURL     string
	ProcessorID string
	APIKey      string
	HTTPClient  *http.Client
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("text extraction base url not configured")
	}
	if strings.TrimSpace(cfg.ProcessorID) == "" {
		return nil, errors.New("text extraction processor id not configured")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg}, nil
}

type processRequest struct {
	RawDocument struct {
		Content  string `json:"content"`
		MimeType string `json:"mimeType"`
	} `json:"rawDocument"`
}

type processResponse struct {
	Document struct {
		Text string `json:"text"`
	} `json:"document"`
}

// Extract sends the document bytes to the OCR processor and returns the
// extracted plain text. Only PDF input is accepted.
func (c *Client) Extract(ctx context.Context, data []byte, mediaType string) (string, error) {
	if mediaType != MediaTypePDF {
		return "", patentreview.NewError(patentreview.KindUnsupportedFormat,
			fmt.Sprintf("unsupported media type %q", mediaType))
	}
	if len(data) == 0 {
		return "", patentreview.NewError(patentreview.KindEmptyInput, "document is empty")
	}

	var payload processRequest
	payload.RawDocument.Content = base64.StdEncoding.EncodeToString(data)
	payload.RawDocument.MimeType = mediaType
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/processors/%s:process", c.cfg.BaseURL, c.cfg.ProcessorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", patentreview.WrapError(patentreview.KindExtractionFailed, "extraction request failed", err)
	}
	defer resp.Body.Close()
	blob, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", patentreview.WrapError(patentreview.KindExtractionFailed, "extraction response read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", patentreview.NewError(patentreview.KindExtractionFailed,
			fmt.Sprintf("extraction backend returned status %d", resp.StatusCode))
	}

	var parsed processResponse
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return "", patentreview.WrapError(patentreview.KindExtractionFailed, "extraction response parse failed", err)
	}
	text := strings.TrimSpace(parsed.Document.Text)
	if text == "" {
		return "", patentreview.NewError(patentreview.KindExtractionFailed, "extraction produced no text")
	}
	return text, nil
}
