package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/youcefjd/orchestration-core/internal/agent"
	"github.com/youcefjd/orchestration-core/internal/approval"
	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
	"github.com/youcefjd/orchestration-core/internal/cost"
	"github.com/youcefjd/orchestration-core/internal/factledger"
	"github.com/youcefjd/orchestration-core/internal/governance"
	"github.com/youcefjd/orchestration-core/internal/llm"
	"github.com/youcefjd/orchestration-core/internal/router"
	"github.com/youcefjd/orchestration-core/internal/tools"
)

type scriptedProvider struct{ reply string }

func (p *scriptedProvider) Name() string               { return "scripted" }
func (p *scriptedProvider) Rates() (float64, float64)  { return 0, 0 }
func (p *scriptedProvider) EstimateTokens(s string) int { return len(s) }
func (p *scriptedProvider) Invoke(ctx context.Context, messages []agentcontext.Message, stop []string) (string, error) {
	return p.reply, nil
}
func (p *scriptedProvider) InvokeAsync(ctx context.Context, messages []agentcontext.Message) <-chan llm.Result {
	out := make(chan llm.Result, 1)
	out <- llm.Result{Text: p.reply}
	close(out)
	return out
}

func newTestOrchestrator(t *testing.T, reply string) *Orchestrator {
	provider := &scriptedProvider{reply: reply}
	reg := tools.New()
	tools.RegisterBuiltins(reg, t.TempDir())
	store := approval.New(filepath.Join(t.TempDir(), "approvals.json"))
	gov := governance.New(store)
	tracker := cost.New(cost.DefaultLimits(), filepath.Join(t.TempDir(), "cost.json"))
	rt := agent.NewRuntime(provider, reg, gov, tracker)

	ledger := factledger.New(filepath.Join(t.TempDir(), "ledger.json"))
	r := router.New(nil, ledger, "general")

	agents := func(name string) (agent.Kind, bool) {
		if name == "general" {
			return agent.Kind{Name: "general", SystemPrompt: "you are a helpful agent"}, true
		}
		return agent.Kind{}, false
	}

	o := New(r, agents, rt, nil, ledger, "general")
	o.Approvals = store
	return o
}

func TestExecuteSucceedsAndRecordsOutcome(t *testing.T) {
	o := newTestOrchestrator(t, "the answer is 42")
	res := o.Execute(context.Background(), "what is the answer?", "dev")
	if res.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %v (%s)", res.Status, res.Summary)
	}
	if o.FactLedger.AgentSuccessRate("general") != 1.0 {
		t.Fatalf("expected recorded success to raise general's success rate")
	}
}

func TestExecuteReturnsNoAgentWhenGeneralMissing(t *testing.T) {
	o := newTestOrchestrator(t, "irrelevant")
	o.Agents = func(name string) (agent.Kind, bool) { return agent.Kind{}, false }
	res := o.Execute(context.Background(), "do something", "dev")
	if res.Status != StatusFailed {
		t.Fatalf("expected failed(no_agent), got %v", res.Status)
	}
}

func TestExecuteDryRunNeverPersistsApproval(t *testing.T) {
	o := newTestOrchestrator(t, `{"tool": "bash", "args": {"command": "systemctl restart foo"}}`)
	o.DryRun = true
	res := o.Execute(context.Background(), "restart the service", "production")

	if res.Status == StatusAwaitingApproval {
		t.Fatalf("expected a dry run to never pause for approval, got %+v", res)
	}
	if res.PendingApprovalID != "" {
		t.Fatalf("expected no pending approval id under dry run, got %q", res.PendingApprovalID)
	}
	if len(o.Approvals.List(approval.VerdictPending)) != 0 {
		t.Fatal("expected dry run to leave no pending approvals in the store")
	}
}

func TestPlanRendersRiskTierBreakdownWithoutDispatchingAnything(t *testing.T) {
	o := newTestOrchestrator(t, "irrelevant")
	plan := o.Plan("roll out the new config", []governance.PlannedAction{
		{Tool: "write", Description: "update config.toml", Risk: tools.RiskYellow},
		{Tool: "bash", Description: "restart the service", Risk: tools.RiskRed},
	})
	if plan == nil {
		t.Fatal("expected a non-nil plan")
	}
	summary := plan.RiskSummary()
	if summary[tools.RiskYellow] != 1 || summary[tools.RiskRed] != 1 {
		t.Fatalf("unexpected risk summary: %v", summary)
	}
	if plan.FormatMarkdown() == "" {
		t.Fatal("expected non-empty markdown")
	}
}

func TestExecuteAwaitingApprovalForRedTool(t *testing.T) {
	o := newTestOrchestrator(t, `{"tool": "bash", "args": {"command": "systemctl restart foo"}}`)
	res := o.Execute(context.Background(), "restart the service", "production")
	if res.Status != StatusAwaitingApproval || res.PendingApprovalID == "" {
		t.Fatalf("expected awaiting_approval, got %+v", res)
	}
}
