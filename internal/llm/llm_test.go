package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
)

func TestWithRetryRetriesRateLimitThenSucceeds(t *testing.T) {
	attempts := 0
	start := time.Now()
	text, err := withRetry(context.Background(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("429 too many requests")
		}
		return "ok", nil
	})
	if err != nil || text != "ok" {
		t.Fatalf("expected eventual success, got %q %v", text, err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if time.Since(start) < defaultInitBackoff {
		t.Fatal("expected at least one backoff sleep")
	}
}

func TestWithRetryStopsOnBillingError(t *testing.T) {
	attempts := 0
	_, err := withRetry(context.Background(), func() (string, error) {
		attempts++
		return "", errors.New("insufficient_quota: billing required")
	})
	if !errors.Is(err, ErrBilling) {
		t.Fatalf("expected ErrBilling, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retries on billing error, got %d attempts", attempts)
	}
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	_, err := withRetry(context.Background(), func() (string, error) {
		attempts++
		return "", errors.New("invalid request: malformed payload")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expected no retries on non-retryable error, got %d attempts", attempts)
	}
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := withRetry(ctx, func() (string, error) {
		return "", errors.New("503 service unavailable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseToolCallExtractsFromSurroundingProse(t *testing.T) {
	content := "Sure, let me check that.\n{\"tool\": \"read\", \"args\": {\"path\": \"a.txt\"}}\nDone."
	call, ok := ParseToolCall(content)
	if !ok {
		t.Fatal("expected a tool call to be found")
	}
	if call.Tool != "read" || call.Args["path"] != "a.txt" {
		t.Fatalf("unexpected parsed call: %+v", call)
	}
}

func TestParseToolCallReturnsFalseOnPlainText(t *testing.T) {
	_, ok := ParseToolCall("The answer is 42.")
	if ok {
		t.Fatal("expected no tool call in plain text response")
	}
}

func TestParseToolCallHandlesNestedBraces(t *testing.T) {
	content := `{"tool": "write", "args": {"path": "a.json", "content": "{\"k\": 1}"}}`
	call, ok := ParseToolCall(content)
	if !ok || call.Tool != "write" {
		t.Fatalf("expected to parse nested-brace args, got %+v ok=%v", call, ok)
	}
}

func TestMustParseToolCallErrorsWhenAbsent(t *testing.T) {
	_, err := MustParseToolCall("no json here")
	if !errors.Is(err, ErrNoToolCall) {
		t.Fatalf("expected ErrNoToolCall, got %v", err)
	}
}

func TestRegistryResolvesDefaultAndNamed(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "a"})
	r.Register(&fakeProvider{name: "b"})

	p, err := r.Resolve("")
	if err != nil || p.Name() != "a" {
		t.Fatalf("expected default provider 'a', got %v %v", p, err)
	}

	p, err = r.Resolve("b")
	if err != nil || p.Name() != "b" {
		t.Fatalf("expected named provider 'b', got %v %v", p, err)
	}

	if _, err := r.Resolve("missing"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

type fakeProvider struct{ name string }

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) Rates() (float64, float64)  { return 0, 0 }
func (f *fakeProvider) EstimateTokens(s string) int { return len(s) }
func (f *fakeProvider) Invoke(ctx context.Context, messages []agentcontext.Message, stop []string) (string, error) {
	return "", nil
}
func (f *fakeProvider) InvokeAsync(ctx context.Context, messages []agentcontext.Message) <-chan Result {
	out := make(chan Result, 1)
	out <- Result{}
	close(out)
	return out
}
