// Package classify talks to the external lesion classification endpoint.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"dermalyze/src/app"
	cfg "dermalyze/src/configuration"
)

const (
	// fileFieldName is the multipart field the backend reads the image from.
	fileFieldName = "file"
	uploadName    = "image.jpg"
)

// ErrNoEndpoint is returned when ML_API_BASE is not configured. This is a
// configuration error surfaced immediately, never retried.
var ErrNoEndpoint = errors.New("classification endpoint is not configured: set ML_API_BASE")

// HTTPError carries a non-2xx response from the classification endpoint
// together with the best-effort body text.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("classification failed (%d): %s", e.Status, e.Body)
}

type (
	Client struct {
		host       string
		httpClient *http.Client
	}

	classifyResponse struct {
		Classes []app.ClassResult `json:"classes"`
	}
)

func NewClient(config cfg.MLServerProperties) *Client {
	return &Client{
		host: config.Host,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    600 * time.Second,
				DisableCompression: true,
			},
			Timeout: config.ReadTimeout,
		},
	}
}

// Classify sends one normalized image (as a data-URL) to the backend and
// returns the decoded class distribution in response order. Single-shot:
// no retries, the caller decides recovery.
func (c *Client) Classify(ctx context.Context, dataURL string) ([]app.ClassResult, error) {
	if c.host == "" {
		return nil, ErrNoEndpoint
	}

	_, raw, err := app.DecodeDataURL(dataURL)
	if err != nil {
		return nil, fmt.Errorf("can not decode selected image: %w", err)
	}

	body, contentType, err := buildMultipart(raw)
	if err != nil {
		return nil, fmt.Errorf("can not build request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/classify", c.host), body)
	if err != nil {
		return nil, fmt.Errorf("can not build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("can not reach classification server: %w", err)
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(responseBytes)}
	}
	if err != nil {
		return nil, fmt.Errorf("can not read response body: %w", err)
	}

	return decodeClasses(responseBytes)
}

func buildMultipart(data []byte) (io.Reader, string, error) {
	bodyReader := new(bytes.Buffer)
	writer := multipart.NewWriter(bodyReader)
	part, err := writer.CreateFormFile(fileFieldName, uploadName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return bodyReader, writer.FormDataContentType(), nil
}

// decodeClasses parses the response at the boundary so a malformed server
// payload fails loudly here instead of propagating into the views. The set
// of ids must be exactly the fixed taxonomy; scores must be non-negative.
// Scores are NOT required to sum to 100 and response order is preserved.
func decodeClasses(responseBytes []byte) ([]app.ClassResult, error) {
	parsed := classifyResponse{}
	if err := json.Unmarshal(responseBytes, &parsed); err != nil {
		return nil, fmt.Errorf("can not unmarshal classification response: %w", err)
	}

	if len(parsed.Classes) != len(app.ClassIDs) {
		return nil, fmt.Errorf("classification response has %d classes, want %d", len(parsed.Classes), len(app.ClassIDs))
	}
	seen := make(map[string]bool, len(parsed.Classes))
	for _, class := range parsed.Classes {
		if !app.KnownClass(class.ID) {
			return nil, fmt.Errorf("classification response has unknown class %q", class.ID)
		}
		if seen[class.ID] {
			return nil, fmt.Errorf("classification response repeats class %q", class.ID)
		}
		if class.Score < 0 {
			return nil, fmt.Errorf("classification response has negative score for %q", class.ID)
		}
		seen[class.ID] = true
	}
	return parsed.Classes, nil
}
