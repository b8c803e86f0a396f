package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kubemendstack/kubemend/internal/models"
)

type fakeCompleter struct {
	content string
	err     error
	calls   int
	gotReq  openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.gotReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

type memoryCache struct {
	data map[string][]byte
	sets int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, errors.New("miss")
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.sets++
	m.data[key] = value
	return nil
}

func (m *memoryCache) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memoryCache) Close() error { return nil }

var testSnapshot = models.MetricsSnapshot{CPUUsage: 0.95, MemoryUsage: 2.1e8, RestartsAvg: 4}

func TestGetAdviceReturnsModelAnswer(t *testing.T) {
	llm := &fakeCompleter{content: "* Restart the container\n* Scale up the deployment"}
	client := newWith(llm, "test-model", time.Second, nil)

	advice, err := client.GetAdvice(context.Background(), testSnapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(advice, "Restart the container") {
		t.Fatalf("unexpected advice: %q", advice)
	}
	if llm.gotReq.Model != "test-model" {
		t.Fatalf("model = %q", llm.gotReq.Model)
	}
	if len(llm.gotReq.Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(llm.gotReq.Messages))
	}
}

func TestGetAdviceTransportErrorIsUnavailable(t *testing.T) {
	llm := &fakeCompleter{err: errors.New("connection reset")}
	client := newWith(llm, "", time.Second, nil)

	_, err := client.GetAdvice(context.Background(), testSnapshot)
	if !errors.Is(err, ErrAdviceUnavailable) {
		t.Fatalf("expected ErrAdviceUnavailable, got %v", err)
	}
}

func TestGetAdviceEmptyAnswerIsUnavailable(t *testing.T) {
	llm := &fakeCompleter{content: "   "}
	client := newWith(llm, "", time.Second, nil)

	_, err := client.GetAdvice(context.Background(), testSnapshot)
	if !errors.Is(err, ErrAdviceUnavailable) {
		t.Fatalf("expected ErrAdviceUnavailable, got %v", err)
	}
}

func TestGetAdviceNoPredefinedSolutionIsUnavailable(t *testing.T) {
	llm := &fakeCompleter{content: "No predefined solution available."}
	client := newWith(llm, "", time.Second, nil)

	_, err := client.GetAdvice(context.Background(), testSnapshot)
	if !errors.Is(err, ErrAdviceUnavailable) {
		t.Fatalf("expected ErrAdviceUnavailable, got %v", err)
	}
}

func TestGetAdviceUsesCache(t *testing.T) {
	llm := &fakeCompleter{content: "* Restart the container"}
	store := newMemoryCache()
	client := newWith(llm, "", time.Second, nil, WithCache(store, time.Minute))

	first, err := client.GetAdvice(context.Background(), testSnapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := client.GetAdvice(context.Background(), testSnapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Fatalf("cache returned different advice: %q vs %q", first, second)
	}
	if llm.calls != 1 {
		t.Fatalf("expected one model call, got %d", llm.calls)
	}
	if store.sets != 1 {
		t.Fatalf("expected one cache store, got %d", store.sets)
	}
}

func TestGetAdviceUnavailableAnswersAreNotCached(t *testing.T) {
	llm := &fakeCompleter{content: ""}
	store := newMemoryCache()
	client := newWith(llm, "", time.Second, nil, WithCache(store, time.Minute))

	if _, err := client.GetAdvice(context.Background(), testSnapshot); err == nil {
		t.Fatalf("expected error for empty answer")
	}
	if store.sets != 0 {
		t.Fatalf("empty advice must not be cached")
	}
}

func TestBuildPromptContainsMetrics(t *testing.T) {
	prompt := BuildPrompt(models.MetricsSnapshot{CPUUsage: 0.951, MemoryUsage: 123.456, RestartsAvg: 4})

	for _, want := range []string{
		"- Cpu Usage: 0.951",
		"- Memory Usage: 123.456",
		"- Container Restarts Avg: 4.000",
		"bullet points",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGetAdviceNilClient(t *testing.T) {
	var client *Client
	if _, err := client.GetAdvice(context.Background(), testSnapshot); !errors.Is(err, ErrAdviceUnavailable) {
		t.Fatalf("expected ErrAdviceUnavailable, got %v", err)
	}
}
