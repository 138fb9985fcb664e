package llm

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // empty for api.openai.com
	Model          string
	EmbeddingModel string
	Timeout        time.Duration // per-request, default 30s
}

// OpenAIProvider talks to OpenAI or any API-compatible endpoint.
type OpenAIProvider struct {
	client         *openai.Client
	model          string
	embeddingModel string
	timeout        time.Duration
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(timeout)

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}

	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		embeddingModel: embeddingModel,
		timeout:        timeout,
	}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, *TokenUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Messages:    convertMessages(messages),
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", nil, wrapOpenAIError(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", nil, errors.New("empty response from openai")
	}
	usage := &TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

func (p *OpenAIProvider) Classify(ctx context.Context, system, user string) (string, *TokenUsage, error) {
	content, usage, err := p.Generate(ctx, []Message{
		SystemPrompt(system),
		UserMessage(user),
	}, Options{Temperature: 0, MaxTokens: 64})
	if err != nil {
		return "", usage, err
	}
	return strings.TrimSpace(content), usage, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, *TokenUsage, error) {
	if len(texts) == 0 {
		return nil, &TokenUsage{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: texts,
	})
	if err != nil {
		return nil, nil, wrapOpenAIError(err, "embedding request failed")
	}
	if len(resp.Data) != len(texts) {
		return nil, nil, errors.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vectors[item.Index] = item.Embedding
	}
	usage := &TokenUsage{
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return vectors, usage, nil
}

func (p *OpenAIProvider) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	return wrapOpenAIError(err, "health check failed")
}

// wrapOpenAIError converts go-openai API errors into StatusError so the
// gateway can decide on retries without importing the SDK.
func wrapOpenAIError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return errors.Wrap(&StatusError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		}, msg)
	}
	return errors.Wrap(err, msg)
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}
