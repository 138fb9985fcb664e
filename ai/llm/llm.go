// Package llm abstracts the chat and embedding providers behind a single
// gateway with retry, cost accounting, and runtime provider switching.
package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// TokenUsage reports token counts for a single provider call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Options tune a single generation request.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Provider is a single LLM backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Name identifies the provider (openai, yandex).
	Name() string

	// Model returns the chat model identifier.
	Model() string

	// Generate performs a chat completion over the full message window.
	Generate(ctx context.Context, messages []Message, opts Options) (string, *TokenUsage, error)

	// Classify performs a deterministic single-shot completion used for
	// intent detection and query extraction.
	Classify(ctx context.Context, system, user string) (string, *TokenUsage, error)

	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, *TokenUsage, error)

	// Health performs a lightweight ping.
	Health(ctx context.Context) error
}

// StatusError is a provider HTTP failure with its status code preserved so
// the gateway can distinguish transient failures from permanent ones.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth another attempt.
// Authentication and request-shape errors never are.
func (e *StatusError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// FormatMessages assembles the window sent to a provider.
func FormatMessages(systemPrompt string, userContent string, history []Message) []Message {
	messages := []Message{}
	if systemPrompt != "" {
		messages = append(messages, SystemPrompt(systemPrompt))
	}
	messages = append(messages, history...)
	messages = append(messages, UserMessage(userContent))
	return messages
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
