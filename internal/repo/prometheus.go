// Package repo contains clients for the external data services the agent
// consumes.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MetricSample is one labelled instant-query result.
type MetricSample struct {
	Timestamp time.Time
	Value     float64
	Instance  string
	Container string
}

// PrometheusClient queries the metrics source's instant-query API.
type PrometheusClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPrometheusClient constructs a client targeting the configured
// Prometheus-compatible endpoint.
func NewPrometheusClient(baseURL string, timeout time.Duration) *PrometheusClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PrometheusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Query runs one instant query and returns every series result. The metric
// name is attached by the caller; this client only understands the query
// API's envelope.
func (c *PrometheusClient) Query(ctx context.Context, query string) ([]MetricSample, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("prometheus client not configured")
	}

	endpoint := c.baseURL + "/api/v1/query?" + url.Values{"query": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus query returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Status string `json:"status"`
		Data   struct {
			Result []struct {
				Metric map[string]string `json:"metric"`
				Value  []json.RawMessage `json:"value"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode prometheus response: %w", err)
	}
	if envelope.Status != "success" {
		return nil, fmt.Errorf("prometheus query status %q", envelope.Status)
	}

	samples := make([]MetricSample, 0, len(envelope.Data.Result))
	for _, item := range envelope.Data.Result {
		if len(item.Value) != 2 {
			continue
		}
		ts, value, err := parseInstantValue(item.Value)
		if err != nil {
			continue
		}
		samples = append(samples, MetricSample{
			Timestamp: ts,
			Value:     value,
			Instance:  item.Metric["instance"],
			Container: item.Metric["container"],
		})
	}
	return samples, nil
}

// parseInstantValue decodes the [unixSeconds, "value"] pair of an instant
// query result. Timestamps are truncated to whole seconds so series
// fetched in the same cycle join on identical keys.
func parseInstantValue(pair []json.RawMessage) (time.Time, float64, error) {
	var seconds float64
	if err := json.Unmarshal(pair[0], &seconds); err != nil {
		return time.Time{}, 0, fmt.Errorf("parse timestamp: %w", err)
	}
	var raw string
	if err := json.Unmarshal(pair[1], &raw); err != nil {
		return time.Time{}, 0, fmt.Errorf("parse value: %w", err)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("parse value %q: %w", raw, err)
	}
	return time.Unix(int64(seconds), 0).UTC(), value, nil
}
