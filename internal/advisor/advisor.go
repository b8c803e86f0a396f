// Package advisor obtains free-text remediation advice for a failure
// verdict from an external text-generation model.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kubemendstack/kubemend/internal/cache"
	"github.com/kubemendstack/kubemend/internal/metrics"
	"github.com/kubemendstack/kubemend/internal/models"
)

// ErrAdviceUnavailable signals that no usable advice arrived for a
// verdict. A valid terminal state: the pipeline skips remediation for the
// row and moves on.
var ErrAdviceUnavailable = errors.New("advice unavailable")

const systemPrompt = "You are a Kubernetes reliability assistant. Answer with short, actionable bullet points only."

// chatCompleter is the slice of the OpenAI-compatible client the advisor
// uses, kept narrow so tests can substitute a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client requests remediation advice and normalises every failure shape to
// ErrAdviceUnavailable.
type Client struct {
	llm      chatCompleter
	model    string
	timeout  time.Duration
	cache    cache.Provider
	cacheTTL time.Duration
	logger   *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithCache enables caching of advice keyed by the failure signature.
func WithCache(provider cache.Provider, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = provider
		c.cacheTTL = ttl
	}
}

// New builds a Client for the configured OpenAI-compatible endpoint.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newWith(openai.NewClientWithConfig(cfg), model, timeout, logger, opts...)
}

func newWith(llm chatCompleter, model string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		llm:     llm,
		model:   model,
		timeout: timeout,
		cache:   cache.NoopProvider{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAdvice sends at most one request for the snapshot and returns the
// advisory text. Timeouts, transport errors, empty responses, and "no
// predefined solution" answers all come back as ErrAdviceUnavailable.
func (c *Client) GetAdvice(ctx context.Context, snapshot models.MetricsSnapshot) (string, error) {
	if c == nil || c.llm == nil {
		return "", ErrAdviceUnavailable
	}

	key := cacheKey(snapshot)
	if cached, err := c.cache.Get(ctx, key); err == nil && len(cached) > 0 {
		c.logger.Debug("advice cache hit", slog.String("key", key))
		return string(cached), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(snapshot)},
		},
	})
	if err != nil {
		metrics.ObserveAdvice(metrics.OutcomeError)
		c.logger.Warn("advisory request failed", slog.Any("error", err))
		return "", fmt.Errorf("%w: %v", ErrAdviceUnavailable, err)
	}

	advice := ""
	if len(resp.Choices) > 0 {
		advice = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if advice == "" || strings.Contains(strings.ToLower(advice), "no predefined solution") {
		metrics.ObserveAdvice(metrics.OutcomeError)
		return "", ErrAdviceUnavailable
	}

	metrics.ObserveAdvice(metrics.OutcomeSuccess)
	if err := c.cache.Set(ctx, key, []byte(advice), c.cacheTTL); err != nil {
		c.logger.Debug("advice cache store failed", slog.Any("error", err))
	}
	return advice, nil
}

// BuildPrompt summarises the three key metrics for the advisory model.
func BuildPrompt(snapshot models.MetricsSnapshot) string {
	var b strings.Builder
	b.WriteString("A failure was detected in a Kubernetes cluster based on the following Prometheus metrics:\n\n")
	fmt.Fprintf(&b, "- Cpu Usage: %.3f\n", snapshot.CPUUsage)
	fmt.Fprintf(&b, "- Memory Usage: %.3f\n", snapshot.MemoryUsage)
	fmt.Fprintf(&b, "- Container Restarts Avg: %.3f\n", snapshot.RestartsAvg)
	b.WriteString("\nProvide only the remediation steps in short, actionable bullet points. " +
		"Do not explain the issue. Focus on what actions should be taken.")
	return b.String()
}

func cacheKey(snapshot models.MetricsSnapshot) string {
	return fmt.Sprintf("advice:%.3f:%.3f:%.3f", snapshot.CPUUsage, snapshot.MemoryUsage, snapshot.RestartsAvg)
}
