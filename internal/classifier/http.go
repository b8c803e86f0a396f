// Package classifier provides implementations of the injected
// binary-classification capability.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClassifier calls an external model-serving endpoint. The endpoint
// receives the imputed feature vectors and answers one 0/1 prediction per
// row.
type HTTPClassifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPClassifier constructs a client for the configured predict
// endpoint.
func NewHTTPClassifier(endpoint string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Predict sends the batch to the model server.
func (c *HTTPClassifier) Predict(ctx context.Context, rows []map[string]float64) ([]int, error) {
	if c == nil || c.endpoint == "" {
		return nil, fmt.Errorf("classifier endpoint not configured")
	}

	payload := map[string]any{"rows": rows}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("predict returned status %d: %s", resp.StatusCode, snippet)
	}

	var decoded struct {
		Predictions []int `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode predict response: %w", err)
	}
	return decoded.Predictions, nil
}
