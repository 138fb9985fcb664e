package llm

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ErrCostLimitExceeded is returned without contacting any provider once
// the monthly spend cap has been reached.
var ErrCostLimitExceeded = errors.New("monthly cost limit exceeded")

// ErrNoProvider is returned when the gateway has no configured provider.
var ErrNoProvider = errors.New("no llm provider configured")

// CostController gates and accounts provider spend. Implemented by the
// cost guard; a nil controller disables accounting.
type CostController interface {
	// Allow returns ErrCostLimitExceeded when the kill switch is engaged.
	Allow(ctx context.Context) error

	// Record adds one call's token usage to the monthly rollup.
	Record(ctx context.Context, provider, model string, usage *TokenUsage)
}

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 4 * time.Second
)

type providerBox struct {
	provider Provider
}

// Gateway fans requests out to the currently active provider with retry
// and cost accounting. The active provider is swappable at runtime
// without interrupting in-flight requests.
type Gateway struct {
	current  atomic.Pointer[providerBox]
	embedder atomic.Pointer[providerBox]
	cost     CostController
}

// NewGateway creates a gateway serving from the given provider.
func NewGateway(provider Provider, cost CostController) *Gateway {
	g := &Gateway{cost: cost}
	if provider != nil {
		g.current.Store(&providerBox{provider: provider})
	}
	return g
}

// Use swaps the active chat provider. In-flight requests finish on the
// provider they started with.
func (g *Gateway) Use(provider Provider) {
	g.current.Store(&providerBox{provider: provider})
	slog.Info("llm provider switched", "provider", provider.Name(), "model", provider.Model())
}

// UseEmbedder pins embedding traffic to a dedicated provider, independent
// of the chat provider.
func (g *Gateway) UseEmbedder(provider Provider) {
	g.embedder.Store(&providerBox{provider: provider})
}

// Current returns the active chat provider, or nil.
func (g *Gateway) Current() Provider {
	if box := g.current.Load(); box != nil {
		return box.provider
	}
	return nil
}

func (g *Gateway) embedProvider() Provider {
	if box := g.embedder.Load(); box != nil {
		return box.provider
	}
	return g.Current()
}

// Generate runs a chat completion on the active provider with retry.
func (g *Gateway) Generate(ctx context.Context, messages []Message, opts Options) (string, *TokenUsage, error) {
	provider := g.Current()
	if provider == nil {
		return "", nil, ErrNoProvider
	}
	if err := g.allow(ctx); err != nil {
		return "", nil, err
	}
	var (
		content string
		usage   *TokenUsage
	)
	err := g.withRetry(ctx, "generate", provider, func(ctx context.Context) error {
		var err error
		content, usage, err = provider.Generate(ctx, messages, opts)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	g.record(ctx, provider, usage)
	return content, usage, nil
}

// Classify runs a deterministic single-shot completion with retry.
func (g *Gateway) Classify(ctx context.Context, system, user string) (string, *TokenUsage, error) {
	provider := g.Current()
	if provider == nil {
		return "", nil, ErrNoProvider
	}
	if err := g.allow(ctx); err != nil {
		return "", nil, err
	}
	var (
		content string
		usage   *TokenUsage
	)
	err := g.withRetry(ctx, "classify", provider, func(ctx context.Context) error {
		var err error
		content, usage, err = provider.Classify(ctx, system, user)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	g.record(ctx, provider, usage)
	return content, usage, nil
}

// Embed returns one vector per text, using the dedicated embedding
// provider when configured.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, *TokenUsage, error) {
	provider := g.embedProvider()
	if provider == nil {
		return nil, nil, ErrNoProvider
	}
	if err := g.allow(ctx); err != nil {
		return nil, nil, err
	}
	var (
		vectors [][]float32
		usage   *TokenUsage
	)
	err := g.withRetry(ctx, "embed", provider, func(ctx context.Context) error {
		var err error
		vectors, usage, err = provider.Embed(ctx, texts)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	g.record(ctx, provider, usage)
	return vectors, usage, nil
}

// Health pings the active provider once, without retry.
func (g *Gateway) Health(ctx context.Context) error {
	provider := g.Current()
	if provider == nil {
		return ErrNoProvider
	}
	return provider.Health(ctx)
}

func (g *Gateway) allow(ctx context.Context) error {
	if g.cost == nil {
		return nil
	}
	return g.cost.Allow(ctx)
}

func (g *Gateway) record(ctx context.Context, provider Provider, usage *TokenUsage) {
	if g.cost == nil || usage == nil {
		return
	}
	g.cost.Record(ctx, provider.Name(), provider.Model(), usage)
}

// withRetry runs call up to maxAttempts times with exponential backoff.
// Non-retryable failures (auth, malformed request, cancelled context)
// abort immediately.
func (g *Gateway) withRetry(ctx context.Context, op string, provider Provider, call func(ctx context.Context) error) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			// The caller's deadline expired; a retry cannot succeed.
			return lastErr
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		slog.Warn("llm call failed, retrying",
			"op", op,
			"provider", provider.Name(),
			"attempt", attempt,
			"backoff", backoff,
			"error", lastErr,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return errors.Wrapf(lastErr, "%s failed after %d attempts", op, maxAttempts)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrCostLimitExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	// Network-level failures are worth another attempt.
	return true
}
