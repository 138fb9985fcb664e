package llm

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu       sync.Mutex
	name     string
	calls    int
	failures int // fail this many calls before succeeding
	failWith error
	reply    string
	usage    TokenUsage
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func (f *fakeProvider) call() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return f.failWith
	}
	return nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) Generate(context.Context, []Message, Options) (string, *TokenUsage, error) {
	if err := f.call(); err != nil {
		return "", nil, err
	}
	u := f.usage
	return f.reply, &u, nil
}

func (f *fakeProvider) Classify(context.Context, string, string) (string, *TokenUsage, error) {
	if err := f.call(); err != nil {
		return "", nil, err
	}
	u := f.usage
	return f.reply, &u, nil
}

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, *TokenUsage, error) {
	if err := f.call(); err != nil {
		return nil, nil, err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0, 0}
	}
	u := f.usage
	return vectors, &u, nil
}

func (f *fakeProvider) Health(context.Context) error { return f.call() }

type recordingCost struct {
	mu      sync.Mutex
	blocked bool
	records []string
}

func (c *recordingCost) Allow(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocked {
		return ErrCostLimitExceeded
	}
	return nil
}

func (c *recordingCost) Record(_ context.Context, provider, model string, _ *TokenUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, provider+"/"+model)
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	provider := &fakeProvider{
		name:     "openai",
		failures: 2,
		failWith: &StatusError{Provider: "openai", StatusCode: http.StatusInternalServerError},
		reply:    "привет",
		usage:    TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	cost := &recordingCost{}
	gw := NewGateway(provider, cost)

	content, usage, err := gw.Generate(context.Background(), []Message{UserMessage("hi")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "привет", content)
	assert.Equal(t, 15, usage.TotalTokens)
	assert.Equal(t, 3, provider.callCount())
	assert.Equal(t, []string{"openai/openai-model"}, cost.records)
}

func TestGenerateGivesUpAfterThreeAttempts(t *testing.T) {
	provider := &fakeProvider{
		name:     "openai",
		failures: 10,
		failWith: &StatusError{Provider: "openai", StatusCode: http.StatusServiceUnavailable},
	}
	gw := NewGateway(provider, nil)

	_, _, err := gw.Generate(context.Background(), []Message{UserMessage("hi")}, Options{})
	require.Error(t, err)
	assert.Equal(t, 3, provider.callCount())
}

func TestAuthErrorNotRetried(t *testing.T) {
	provider := &fakeProvider{
		name:     "openai",
		failures: 10,
		failWith: &StatusError{Provider: "openai", StatusCode: http.StatusUnauthorized},
	}
	gw := NewGateway(provider, nil)

	_, _, err := gw.Generate(context.Background(), []Message{UserMessage("hi")}, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, provider.callCount())

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.False(t, statusErr.Retryable())
}

func TestRateLimitIsRetryable(t *testing.T) {
	provider := &fakeProvider{
		name:     "yandex",
		failures: 1,
		failWith: &StatusError{Provider: "yandex", StatusCode: http.StatusTooManyRequests},
		reply:    "ok",
	}
	gw := NewGateway(provider, nil)

	content, _, err := gw.Generate(context.Background(), []Message{UserMessage("hi")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, 2, provider.callCount())
}

func TestCostLimitShortCircuits(t *testing.T) {
	provider := &fakeProvider{name: "openai", reply: "never"}
	cost := &recordingCost{blocked: true}
	gw := NewGateway(provider, cost)

	_, _, err := gw.Generate(context.Background(), []Message{UserMessage("hi")}, Options{})
	require.ErrorIs(t, err, ErrCostLimitExceeded)
	// The provider must never be contacted while the limit is engaged.
	assert.Zero(t, provider.callCount())
}

func TestHotSwapProvider(t *testing.T) {
	first := &fakeProvider{name: "openai", reply: "from openai"}
	second := &fakeProvider{name: "yandex", reply: "from yandex"}
	gw := NewGateway(first, nil)

	content, _, err := gw.Generate(context.Background(), []Message{UserMessage("hi")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "from openai", content)

	gw.Use(second)
	content, _, err = gw.Generate(context.Background(), []Message{UserMessage("hi")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "from yandex", content)
	assert.Equal(t, "yandex", gw.Current().Name())
}

func TestDedicatedEmbedder(t *testing.T) {
	chat := &fakeProvider{name: "yandex", reply: "chat"}
	embed := &fakeProvider{name: "openai"}
	gw := NewGateway(chat, nil)
	gw.UseEmbedder(embed)

	vectors, _, err := gw.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 1, embed.callCount())
	assert.Zero(t, chat.callCount())
}

func TestNoProvider(t *testing.T) {
	gw := NewGateway(nil, nil)
	_, _, err := gw.Generate(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoProvider)
}
