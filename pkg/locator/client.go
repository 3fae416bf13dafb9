// Package locator wraps the external object detection service. One call per
// pipeline run; the returned detection order is the correlation key for every
// later stage and is preserved exactly.
package locator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inventory-service/pkg/processing"
	"inventory-service/pkg/types"
)

// ErrLocator marks any failure of the detection call: transport error,
// non-success status or an unparseable response. Unlike appraisal failures it
// is not recovered from; without detections there is nothing downstream.
var ErrLocator = errors.New("object locator failed")

const uploadQuality = 90

// Client calls the object detection service.
type Client struct {
	endpoint   string
	apiKey     string
	provider   string
	httpClient *http.Client
	processor  *processing.Processor
	log        zerolog.Logger
}

// NewClient creates a detection client. The provider selects which backend
// the detection service runs; its name also keys the response payload.
func NewClient(endpoint, apiKey, provider string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		provider:   provider,
		httpClient: &http.Client{Timeout: timeout},
		processor:  processing.NewProcessor(),
		log:        log.With().Str("component", "locator").Logger(),
	}
}

type detectionItem struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	XMin       float64 `json:"x_min"`
	XMax       float64 `json:"x_max"`
	YMin       float64 `json:"y_min"`
	YMax       float64 `json:"y_max"`
}

type providerResult struct {
	Items []detectionItem `json:"items"`
}

// Locate sends the image to the detection service and returns the detected
// objects in the service's response order. An empty list is a valid result.
func (c *Client) Locate(ctx context.Context, img image.Image) ([]types.Detection, error) {
	data, err := c.processor.EncodeJPEG(img, uploadQuality)
	if err != nil {
		return nil, fmt.Errorf("%w: encode image: %v", ErrLocator, err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("%w: create form file: %v", ErrLocator, err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: copy image data: %v", ErrLocator, err)
	}
	if err := writer.WriteField("providers", c.provider); err != nil {
		return nil, fmt.Errorf("%w: write provider field: %v", ErrLocator, err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrLocator, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrLocator, resp.StatusCode, string(respBody))
	}

	var payload map[string]providerResult
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrLocator, err)
	}

	result, ok := payload[c.provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q missing from response", ErrLocator, c.provider)
	}

	detections := make([]types.Detection, 0, len(result.Items))
	for _, item := range result.Items {
		detections = append(detections, types.Detection{
			ID:         uuid.NewString(),
			Label:      item.Label,
			Confidence: item.Confidence,
			Box: types.Box{
				XMin: item.XMin,
				XMax: item.XMax,
				YMin: item.YMin,
				YMax: item.YMax,
			},
		})
	}

	c.log.Debug().
		Int("detections", len(detections)).
		Dur("elapsed", time.Since(start)).
		Msg("object detection completed")

	return detections, nil
}
