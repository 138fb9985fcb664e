package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultYandexBaseURL = "https://llm.api.cloud.yandex.net"

// YandexConfig configures the YandexGPT Foundation Models provider.
type YandexConfig struct {
	APIKey   string
	FolderID string
	Model    string        // e.g. yandexgpt-lite
	BaseURL  string        // override for tests
	Timeout  time.Duration // per-request, default 30s
}

// YandexProvider talks to the Foundation Models completion and embedding
// endpoints. There is no official Go SDK, the REST surface is small enough
// to call directly.
type YandexProvider struct {
	apiKey   string
	folderID string
	model    string
	baseURL  string
	client   *http.Client
}

func NewYandexProvider(cfg YandexConfig) (*YandexProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("yandex api key required")
	}
	if cfg.FolderID == "" {
		return nil, errors.New("yandex folder id required")
	}
	if cfg.Model == "" {
		return nil, errors.New("yandex model required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultYandexBaseURL
	}
	return &YandexProvider{
		apiKey:   cfg.APIKey,
		folderID: cfg.FolderID,
		model:    cfg.Model,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   newHTTPClient(timeout),
	}, nil
}

func (p *YandexProvider) Name() string  { return "yandex" }
func (p *YandexProvider) Model() string { return p.model }

type yandexMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type yandexCompletionRequest struct {
	ModelURI          string `json:"modelUri"`
	CompletionOptions struct {
		Stream      bool    `json:"stream"`
		Temperature float32 `json:"temperature"`
		MaxTokens   string  `json:"maxTokens,omitempty"`
	} `json:"completionOptions"`
	Messages []yandexMessage `json:"messages"`
}

type yandexCompletionResponse struct {
	Result struct {
		Alternatives []struct {
			Message yandexMessage `json:"message"`
			Status  string        `json:"status"`
		} `json:"alternatives"`
		Usage struct {
			InputTextTokens  string `json:"inputTextTokens"`
			CompletionTokens string `json:"completionTokens"`
			TotalTokens      string `json:"totalTokens"`
		} `json:"usage"`
	} `json:"result"`
}

func (p *YandexProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, *TokenUsage, error) {
	req := yandexCompletionRequest{
		ModelURI: fmt.Sprintf("gpt://%s/%s", p.folderID, p.model),
	}
	req.CompletionOptions.Temperature = opts.Temperature
	if opts.MaxTokens > 0 {
		req.CompletionOptions.MaxTokens = strconv.Itoa(opts.MaxTokens)
	}
	req.Messages = make([]yandexMessage, len(messages))
	for i, m := range messages {
		req.Messages[i] = yandexMessage{Role: m.Role, Text: m.Content}
	}

	var resp yandexCompletionResponse
	if err := p.post(ctx, "/foundationModels/v1/completion", req, &resp); err != nil {
		return "", nil, err
	}
	if len(resp.Result.Alternatives) == 0 {
		return "", nil, errors.New("empty response from yandex")
	}
	usage := &TokenUsage{
		PromptTokens:     atoi(resp.Result.Usage.InputTextTokens),
		CompletionTokens: atoi(resp.Result.Usage.CompletionTokens),
		TotalTokens:      atoi(resp.Result.Usage.TotalTokens),
	}
	return resp.Result.Alternatives[0].Message.Text, usage, nil
}

func (p *YandexProvider) Classify(ctx context.Context, system, user string) (string, *TokenUsage, error) {
	content, usage, err := p.Generate(ctx, []Message{
		SystemPrompt(system),
		UserMessage(user),
	}, Options{Temperature: 0, MaxTokens: 64})
	if err != nil {
		return "", usage, err
	}
	return strings.TrimSpace(content), usage, nil
}

type yandexEmbeddingRequest struct {
	ModelURI string `json:"modelUri"`
	Text     string `json:"text"`
}

type yandexEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
	NumTokens string    `json:"numTokens"`
}

// Embed calls the textEmbedding endpoint once per input; the API accepts a
// single text per request.
func (p *YandexProvider) Embed(ctx context.Context, texts []string) ([][]float32, *TokenUsage, error) {
	usage := &TokenUsage{}
	vectors := make([][]float32, 0, len(texts))
	modelURI := fmt.Sprintf("emb://%s/text-search-doc/latest", p.folderID)
	for _, text := range texts {
		var resp yandexEmbeddingResponse
		err := p.post(ctx, "/foundationModels/v1/textEmbedding", yandexEmbeddingRequest{
			ModelURI: modelURI,
			Text:     text,
		}, &resp)
		if err != nil {
			return nil, nil, err
		}
		vectors = append(vectors, resp.Embedding)
		usage.PromptTokens += atoi(resp.NumTokens)
		usage.TotalTokens += atoi(resp.NumTokens)
	}
	return vectors, usage, nil
}

func (p *YandexProvider) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, _, err := p.Generate(ctx, []Message{UserMessage("ping")}, Options{MaxTokens: 1})
	return err
}

func (p *YandexProvider) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal yandex request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "failed to build yandex request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+p.apiKey)
	req.Header.Set("x-folder-id", p.folderID)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "yandex request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "failed to read yandex response")
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{
			Provider:   "yandex",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return errors.Wrap(json.Unmarshal(payload, out), "failed to decode yandex response")
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
