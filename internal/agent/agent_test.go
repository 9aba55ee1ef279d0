package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
	"github.com/youcefjd/orchestration-core/internal/cost"
	"github.com/youcefjd/orchestration-core/internal/approval"
	"github.com/youcefjd/orchestration-core/internal/governance"
	"github.com/youcefjd/orchestration-core/internal/llm"
	"github.com/youcefjd/orchestration-core/internal/tools"
)

type scriptedProvider struct {
	replies []string
	i       int
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) Rates() (float64, float64) { return 0, 0 }
func (p *scriptedProvider) EstimateTokens(s string) int { return len(s) }
func (p *scriptedProvider) Invoke(ctx context.Context, messages []agentcontext.Message, stop []string) (string, error) {
	if p.i >= len(p.replies) {
		return "", fmt.Errorf("scriptedProvider: no more replies")
	}
	reply := p.replies[p.i]
	p.i++
	return reply, nil
}
func (p *scriptedProvider) InvokeAsync(ctx context.Context, messages []agentcontext.Message) <-chan llm.Result {
	out := make(chan llm.Result, 1)
	text, err := p.Invoke(ctx, messages, nil)
	out <- llm.Result{Text: text, Err: err}
	close(out)
	return out
}

func newTestRuntime(t *testing.T, provider llm.Provider) *Runtime {
	rt, _ := newTestRuntimeWithApprovals(t, provider)
	return rt
}

func newTestRuntimeWithApprovals(t *testing.T, provider llm.Provider) (*Runtime, *approval.Store) {
	reg := tools.New()
	tools.RegisterBuiltins(reg, t.TempDir())
	store := approval.New(filepath.Join(t.TempDir(), "approvals.json"))
	gov := governance.New(store)
	tracker := cost.New(cost.DefaultLimits(), filepath.Join(t.TempDir(), "cost.json"))
	return NewRuntime(provider, reg, gov, tracker), store
}

func TestRunReachesFinalWithoutToolCall(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"the answer is 42"}}
	rt := newTestRuntime(t, provider)
	res := rt.Run(context.Background(), Kind{Name: "general", SystemPrompt: "you are a helpful agent"}, "t1", "dev", "what is the answer?")
	if res.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %v (%s)", res.Status, res.Summary)
	}
	if res.Summary != "the answer is 42" {
		t.Fatalf("unexpected summary: %q", res.Summary)
	}
}

func TestRunExecutesGreenToolThenFinal(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"tool": "ls", "args": {"path": "."}}`,
		"done listing",
	}}
	rt := newTestRuntime(t, provider)
	res := rt.Run(context.Background(), Kind{Name: "general", SystemPrompt: "you are a helpful agent"}, "t1", "dev", "list files")
	if res.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %v (%s)", res.Status, res.Summary)
	}
	if res.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", res.Iterations)
	}
}

func TestRunRedToolRequiresApprovalInProduction(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"tool": "bash", "args": {"command": "systemctl restart foo"}}`,
	}}
	rt := newTestRuntime(t, provider)
	res := rt.Run(context.Background(), Kind{Name: "general", SystemPrompt: "you are a helpful agent"}, "t1", "production", "restart the service")
	if res.Status != StatusAwaitingApproval || res.PendingApprovalID == "" {
		t.Fatalf("expected awaiting_approval with an id, got %v", res)
	}
}

func TestRunUnknownToolReportsErrorAndContinuesReasoning(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"tool": "does_not_exist", "args": {}}`,
		"recovered",
	}}
	rt := newTestRuntime(t, provider)
	res := rt.Run(context.Background(), Kind{Name: "general", SystemPrompt: "you are a helpful agent"}, "t1", "dev", "try something")
	if res.Status != StatusSucceeded || res.Summary != "recovered" {
		t.Fatalf("expected recovery after unknown tool, got %v", res)
	}
}

func TestRunHitsIterationCap(t *testing.T) {
	replies := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		replies = append(replies, `{"tool": "ls", "args": {"path": "."}}`)
	}
	provider := &scriptedProvider{replies: replies}
	rt := newTestRuntime(t, provider)
	rt.Budgets.IterationCap = 3
	res := rt.Run(context.Background(), Kind{Name: "general", SystemPrompt: "you are a helpful agent"}, "t1", "dev", "loop forever")
	if res.Status != StatusFailed || res.FailureReason != ReasonIterationCap {
		t.Fatalf("expected iteration_cap failure, got %v", res)
	}
}

func TestRunFailsClosedOnMissingRequiredArg(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"tool": "read", "args": {}}`,
	}}
	rt := newTestRuntime(t, provider)
	res := rt.Run(context.Background(), Kind{Name: "general", SystemPrompt: "you are a helpful agent"}, "t1", "dev", "read a file")
	if res.Status != StatusFailed || res.FailureReason != ReasonValidationError {
		t.Fatalf("expected validation_error failure, got %v (%s)", res, res.Summary)
	}
}

func TestResumeApprovedToolContinuesReasoning(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"ls ran successfully"}}
	rt, approvals := newTestRuntimeWithApprovals(t, provider)

	a, err := approvals.CreatePending(approval.PendingInvocation{
		TaskID: "t1", Tool: "ls", Risk: "red", Reason: "forced for the test",
		Args: map[string]interface{}{"path": "."}, Environment: "production",
		Conversation: []agentcontext.Message{
			{Role: agentcontext.RoleSystem, Content: "you are a helpful agent"},
			{Role: agentcontext.RoleUser, Content: "list files"},
		},
		Iterations: 1,
	})
	if err != nil {
		t.Fatalf("failed to seed pending approval: %v", err)
	}
	if err := approvals.Decide(a.ID, approval.VerdictApproved, ""); err != nil {
		t.Fatalf("failed to approve: %v", err)
	}

	res := rt.Resume(context.Background(), a)
	if res.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %v (%s)", res.Status, res.Summary)
	}
}

func TestResumeRejectedInjectsDenialAndContinues(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"understood, skipping that step"}}
	rt, approvals := newTestRuntimeWithApprovals(t, provider)

	a, err := approvals.CreatePending(approval.PendingInvocation{
		TaskID: "t1", Tool: "bash", Risk: "red", Reason: "forced for the test",
		Args: map[string]interface{}{"command": "systemctl restart foo"}, Environment: "production",
		Conversation: []agentcontext.Message{
			{Role: agentcontext.RoleSystem, Content: "you are a helpful agent"},
			{Role: agentcontext.RoleUser, Content: "restart the service"},
		},
		Iterations: 1,
	})
	if err != nil {
		t.Fatalf("failed to seed pending approval: %v", err)
	}
	if err := approvals.Decide(a.ID, approval.VerdictRejected, "too risky"); err != nil {
		t.Fatalf("failed to reject: %v", err)
	}

	res := rt.Resume(context.Background(), a)
	if res.Status != StatusSucceeded {
		t.Fatalf("expected the run to recover with a final reply, got %v (%s)", res.Status, res.Summary)
	}
}
