// Package llm implements the LLM Provider component: a uniform interface
// over multiple backends with retrying invocation and cost hints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
)

// Provider is the uniform contract every backend adapter satisfies:
// invoke(messages) -> text, invoke_async, estimate_tokens, rates.
type Provider interface {
	// Invoke runs one completion and blocks until it resolves or ctx is done.
	Invoke(ctx context.Context, messages []agentcontext.Message, stopSequences []string) (string, error)
	// InvokeAsync returns a channel that resolves with the completion or an
	// error, letting the caller select on it alongside other yield points.
	InvokeAsync(ctx context.Context, messages []agentcontext.Message) <-chan Result
	// EstimateTokens approximates a text's token count for this provider.
	EstimateTokens(text string) int
	// Rates returns (input_per_1k, output_per_1k) in dollars.
	Rates() (inputPer1k, outputPer1k float64)
	// Name identifies the provider for logging and routing.
	Name() string
}

// Result is what InvokeAsync resolves with.
type Result struct {
	Text string
	Err  error
}

// Retry configuration, grounded on src/internal/llm/adapters.go's
// FantasyAdapter retry loop.
const (
	defaultMaxRetries  = 5
	defaultInitBackoff = 1 * time.Second
	defaultMaxBackoff  = 60 * time.Second
	backoffFactor      = 2.0
)

// ErrBilling marks a fatal, non-retryable provider error (quota exhausted,
// payment required, account suspended).
var ErrBilling = errors.New("llm: billing error")

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests") ||
		strings.Contains(s, "429") || strings.Contains(s, "overloaded") || strings.Contains(s, "capacity")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "500") || strings.Contains(s, "502") || strings.Contains(s, "503") ||
		strings.Contains(s, "504") || strings.Contains(s, "internal server error") ||
		strings.Contains(s, "bad gateway") || strings.Contains(s, "service unavailable") ||
		strings.Contains(s, "gateway timeout") || strings.Contains(s, "temporarily unavailable")
}

func isRetryableError(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

func isBillingError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "insufficient_quota") || strings.Contains(s, "billing") ||
		strings.Contains(s, "payment required") || strings.Contains(s, "account suspended") ||
		strings.Contains(s, "402")
}

// withRetry runs fn with exponential backoff up to defaultMaxRetries,
// matching adapters.go's isRetryableError/isBillingError split: billing
// errors are fatal and never retried, rate-limit/5xx errors are retried.
func withRetry(ctx context.Context, fn func() (string, error)) (string, error) {
	backoff := defaultInitBackoff
	var lastErr error
	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		text, err := fn()
		if err == nil {
			return text, nil
		}
		if isBillingError(err) {
			return "", fmt.Errorf("%w: %s", ErrBilling, err)
		}
		if !isRetryableError(err) || attempt == defaultMaxRetries {
			return "", err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(math.Min(float64(backoff)*backoffFactor, float64(defaultMaxBackoff)))
	}
	return "", lastErr
}

// invokeAsync is the shared InvokeAsync implementation built from a
// provider's Invoke, used by every adapter to avoid re-deriving the
// goroutine+channel boilerplate.
func invokeAsync(ctx context.Context, invoke func(context.Context, []agentcontext.Message, []string) (string, error), messages []agentcontext.Message) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		text, err := invoke(ctx, messages, nil)
		out <- Result{Text: text, Err: err}
		close(out)
	}()
	return out
}

// estimateTokensChars approximates token count as characters/4, matching
// internal/context's EstimateTokens heuristic — used by adapters that don't
// expose a provider-native tokenizer.
func estimateTokensChars(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}

// Registry resolves a provider by name, mirroring
// src/internal/llm/models.go's InferProviderFromModel/GetProviders lookup
// but scoped to the four adapters this module ships.
type Registry struct {
	providers map[string]Provider
	def       string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its Name(). The first registered provider
// becomes the default.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
	if r.def == "" {
		r.def = p.Name()
	}
}

// SetDefault overrides which registered provider Resolve("") returns.
func (r *Registry) SetDefault(name string) {
	r.def = name
}

// Resolve looks up a provider by name, falling back to the registry's
// default when name is empty.
func (r *Registry) Resolve(name string) (Provider, error) {
	if name == "" {
		name = r.def
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
	return p, nil
}
