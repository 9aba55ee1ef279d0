package governance

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/youcefjd/orchestration-core/internal/approval"
	"github.com/youcefjd/orchestration-core/internal/tools"
)

func newFramework(t *testing.T) *Framework {
	store := approval.New(filepath.Join(t.TempDir(), "approvals.json"))
	return New(store)
}

func TestGreenAlwaysExecutes(t *testing.T) {
	g := newFramework(t)
	d := g.Decide(InvocationRequest{Tool: toolWithRisk("list", tools.RiskGreen), Environment: "production"})
	if d.Kind != DecisionExecute {
		t.Fatalf("expected Execute, got %v", d.Kind)
	}
}

func TestYellowAutoApprovesInDev(t *testing.T) {
	g := newFramework(t)
	d := g.Decide(InvocationRequest{TaskID: "t1", Tool: toolWithRisk("write", tools.RiskYellow), Environment: "dev"})
	if d.Kind != DecisionAutoApprove {
		t.Fatalf("expected AutoApprove in dev, got %v", d.Kind)
	}
}

func TestYellowRequiresApprovalInProduction(t *testing.T) {
	g := newFramework(t)
	d := g.Decide(InvocationRequest{TaskID: "t1", Tool: toolWithRisk("write", tools.RiskYellow), Environment: "production"})
	if d.Kind != DecisionRequireApproval || d.ApprovalID == "" {
		t.Fatalf("expected RequireApproval with an id in production, got %v", d)
	}
}

func TestRedAlwaysRequiresApproval(t *testing.T) {
	g := newFramework(t)
	d := g.Decide(InvocationRequest{TaskID: "t1", Tool: toolWithRisk("deploy", tools.RiskRed), Environment: "dev"})
	if d.Kind != DecisionRequireApproval {
		t.Fatalf("expected RequireApproval for red risk even in dev, got %v", d.Kind)
	}
}

func TestAllowedContextsNarrowsToDeny(t *testing.T) {
	g := newFramework(t)
	d := g.Decide(InvocationRequest{
		Tool:        toolWithRisk("green-tool", tools.RiskGreen),
		Environment: "production",
	})
	if d.Kind != DecisionExecute {
		t.Fatalf("sanity check failed: %v", d.Kind)
	}

	d2 := g.Decide(InvocationRequest{
		Tool:        simpleTool{name: "scoped", risk: tools.RiskGreen, contexts: []string{"dev"}},
		Environment: "production",
	})
	if d2.Kind != DecisionDeny {
		t.Fatalf("expected Deny outside allowed_contexts, got %v", d2.Kind)
	}
}

func TestGovernanceUnavailableFailsClosed(t *testing.T) {
	g := New(nil)
	d := g.Decide(InvocationRequest{TaskID: "t1", Tool: toolWithRisk("deploy", tools.RiskRed), Environment: "dev"})
	if d.Kind != DecisionRequireApproval {
		t.Fatalf("expected fail-closed RequireApproval when approval store is unavailable, got %v", d.Kind)
	}
}

func TestSelfModifyOutsideDevAlwaysRequiresApproval(t *testing.T) {
	d := CheckSelfModify("production", SeverityLow)
	if d.Kind != DecisionRequireApproval {
		t.Fatalf("expected RequireApproval outside dev, got %v", d.Kind)
	}
}

func TestSelfModifyLowSeverityInDevAutoApproves(t *testing.T) {
	d := CheckSelfModify("dev", SeverityLow)
	if d.Kind != DecisionAutoApprove {
		t.Fatalf("expected AutoApprove for low severity in dev, got %v", d.Kind)
	}
}

func TestDryRunDeniesRedWithoutPersistingApproval(t *testing.T) {
	store := approval.New(filepath.Join(t.TempDir(), "approvals.json"))
	g := New(store)

	d := g.Decide(InvocationRequest{
		TaskID: "t1", Tool: toolWithRisk("deploy", tools.RiskRed), Environment: "dev", DryRun: true,
	})
	if d.Kind != DecisionDeny {
		t.Fatalf("expected Deny under dry run, got %v", d.Kind)
	}
	if d.ApprovalID != "" {
		t.Fatalf("expected no approval id under dry run, got %q", d.ApprovalID)
	}
	if _, ok := store.FindPending("t1", "deploy", nil); ok {
		t.Fatal("expected dry run to leave no pending approval in the store")
	}
}

func TestDryRunDeniesYellowInProductionWithoutPersistingApproval(t *testing.T) {
	store := approval.New(filepath.Join(t.TempDir(), "approvals.json"))
	g := New(store)

	d := g.Decide(InvocationRequest{
		TaskID: "t1", Tool: toolWithRisk("write", tools.RiskYellow), Environment: "production", DryRun: true,
	})
	if d.Kind != DecisionDeny {
		t.Fatalf("expected Deny under dry run, got %v", d.Kind)
	}
	if _, ok := store.FindPending("t1", "write", nil); ok {
		t.Fatal("expected dry run to leave no pending approval in the store")
	}
}

func TestDryRunStillExecutesGreen(t *testing.T) {
	g := newFramework(t)
	d := g.Decide(InvocationRequest{Tool: toolWithRisk("list", tools.RiskGreen), Environment: "production", DryRun: true})
	if d.Kind != DecisionExecute {
		t.Fatalf("expected a dry run to still execute a green tool, got %v", d.Kind)
	}
}

func TestRequireApprovalSetsFormattedPlan(t *testing.T) {
	g := newFramework(t)
	d := g.Decide(InvocationRequest{TaskID: "t1", Tool: toolWithRisk("deploy", tools.RiskRed), Environment: "production", Args: map[string]interface{}{"target": "prod"}})
	if d.Kind != DecisionRequireApproval {
		t.Fatalf("expected RequireApproval, got %v", d.Kind)
	}

	a, ok := g.approvals.Get(d.ApprovalID)
	if !ok {
		t.Fatal("expected the approval to be persisted")
	}
	if a.FormattedPlan == "" {
		t.Fatal("expected requireApproval to set a non-empty FormattedPlan")
	}
	if !strings.Contains(a.FormattedPlan, "deploy") {
		t.Fatalf("expected the formatted plan to mention the tool, got %q", a.FormattedPlan)
	}
}

func TestSelfModifyToolRegistersAsRedAndRequiresApprovalInProduction(t *testing.T) {
	g := newFramework(t)
	d := g.Decide(InvocationRequest{
		TaskID: "t1", Tool: tools.Tool(selfModifyStub{}), Environment: "production",
		Args: map[string]interface{}{"description": "patch router.go"},
	})
	if d.Kind != DecisionRequireApproval || d.ApprovalID == "" {
		t.Fatalf("expected self_modify_codebase outside dev to require approval with an id, got %v", d)
	}
}

func TestSelfModifyToolHighSeverityRequiresApprovalEvenInDev(t *testing.T) {
	g := newFramework(t)
	d := g.Decide(InvocationRequest{
		TaskID: "t1", Tool: tools.Tool(selfModifyStub{}), Environment: "dev",
		Args: map[string]interface{}{"description": "patch router.go", "severity": "high"},
	})
	if d.Kind != DecisionRequireApproval {
		t.Fatalf("expected high-severity self-modification to require approval even in dev, got %v", d.Kind)
	}
}

func TestSelfModifyToolDryRunDeniesWithoutApproval(t *testing.T) {
	store := approval.New(filepath.Join(t.TempDir(), "approvals.json"))
	g := New(store)
	d := g.Decide(InvocationRequest{
		TaskID: "t1", Tool: tools.Tool(selfModifyStub{}), Environment: "production", DryRun: true,
		Args: map[string]interface{}{"description": "patch router.go"},
	})
	if d.Kind != DecisionDeny {
		t.Fatalf("expected Deny under dry run, got %v", d.Kind)
	}
	if _, ok := store.FindPending("t1", tools.SelfModifyToolName, nil); ok {
		t.Fatal("expected dry run to leave no pending approval in the store")
	}
}

type selfModifyStub struct{ simpleTool }

func (selfModifyStub) Name() string { return tools.SelfModifyToolName }

func TestChangePlanFormatting(t *testing.T) {
	plan := NewChangePlan("deploy widget", []PlannedAction{
		{Tool: "write", Description: "update config", Risk: tools.RiskYellow},
		{Tool: "deploy", Description: "restart service", Risk: tools.RiskRed},
	})
	md := plan.FormatMarkdown()
	if md == "" {
		t.Fatal("expected non-empty markdown")
	}
	summary := plan.RiskSummary()
	if summary[tools.RiskYellow] != 1 || summary[tools.RiskRed] != 1 {
		t.Fatalf("unexpected risk summary: %v", summary)
	}
}

func toolWithRisk(name string, risk tools.Risk) tools.Tool {
	return simpleTool{name: name, risk: risk}
}

type simpleTool struct {
	name     string
	risk     tools.Risk
	contexts []string
}

func (s simpleTool) Name() string                       { return s.name }
func (s simpleTool) Description() string                { return "" }
func (s simpleTool) Parameters() map[string]interface{} { return nil }
func (s simpleTool) Risk() tools.Risk                    { return s.risk }
func (s simpleTool) AllowedContexts() []string           { return s.contexts }
func (s simpleTool) Timeout() int                        { return 30 }
func (s simpleTool) AuthIdentity() string                { return "" }
func (s simpleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}
