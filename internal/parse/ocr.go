package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const ocrTimeout = 5 * time.Minute // OCR of large scans is slow

// Compile-time check that OCRClient implements Parser.
var _ Parser = (*OCRClient)(nil)

// OCRClient sends staged blobs to the document parsing service over HTTP.
// The service accepts a multipart upload at POST {base}/parse with a "mode"
// field and responds with {"content": "..."}.
type OCRClient struct {
	baseURL    string
	mode       string
	httpClient *http.Client
}

// NewOCRClient creates a client for the parse service at baseURL. mode
// selects the service-side extraction profile (e.g. "ocr_high_res").
func NewOCRClient(baseURL, mode string) *OCRClient {
	return &OCRClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		mode:    mode,
		httpClient: &http.Client{
			Timeout: 0, // per-call timeout via context
		},
	}
}

type parseResponse struct {
	Content string `json:"content"`
}

func (c *OCRClient) Parse(ctx context.Context, blob io.Reader, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ocrTimeout)
	defer cancel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("mode", c.mode); err != nil {
		return "", fmt.Errorf("writing mode field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(fw, blob); err != nil {
		return "", fmt.Errorf("copying blob %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", &body)
	if err != nil {
		return "", fmt.Errorf("creating parse request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("parse service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var pr parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decoding parse response: %w", err)
	}
	return pr.Content, nil
}
