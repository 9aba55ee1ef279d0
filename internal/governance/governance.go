// Package governance implements the Governance component: deciding whether
// an invocation may run immediately, needs an approval, or is denied,
// based on static risk classification and environment.
package governance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/youcefjd/orchestration-core/internal/approval"
	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
	"github.com/youcefjd/orchestration-core/internal/tools"
)

// Decision is the tagged-variant result of a governance check.
type Decision struct {
	Kind       DecisionKind
	Reason     string
	ApprovalID string
}

type DecisionKind string

const (
	DecisionExecute        DecisionKind = "execute"
	DecisionAutoApprove    DecisionKind = "auto_approve"
	DecisionRequireApproval DecisionKind = "require_approval"
	DecisionDeny           DecisionKind = "deny"
)

// InvocationRequest describes a proposed tool call pending a decision.
// Conversation and Iterations are only needed when the call might end up
// requiring approval: they're carried into the persisted Approval so the
// Agent Runtime can resume from exactly this point once an operator
// decides, rather than re-running the task from its first message.
//
// DryRun short-circuits any call that would otherwise require approval:
// Decide denies it outright instead of persisting an Approval, so a dry run
// never mutates external state and never leaves an approval record behind
// that outlives it.
type InvocationRequest struct {
	TaskID       string
	Tool         tools.Tool
	Args         map[string]interface{}
	Environment  string
	Conversation []agentcontext.Message
	Iterations   int
	DryRun       bool
}

// autoApproveEnvironments are the environments where a yellow-risk tool may
// proceed without a human.
var autoApproveEnvironments = map[string]bool{"dev": true, "staging": true, "local": true}

// readOnlyAllowlist re-classifies shell commands that are provably
// read-only back down to green, grounded on original_source/governance.py's
// check_permission special-casing of docker_ps-style tools.
var readOnlyAllowlist = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(ls|cat|grep|find|ps|docker ps|docker logs|kubectl get|kubectl describe|git status|git log|git diff)\b`),
}

// destructiveShellPatterns force a red classification that Governance never
// downgrades, regardless of environment or allowed_contexts.
var destructiveShellPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\b`),
	regexp.MustCompile(`(?i)\bdocker\s+(rm|kill|restart)\b`),
	regexp.MustCompile(`(?i)\bkubectl\s+delete\b`),
	regexp.MustCompile(`(?i)\b(shutdown|reboot|mkfs|dd\s+if=)\b`),
}

// reclassifyShellRisk applies the read-only allowlist / destructive-pattern
// overrides to a bash-style invocation's command text.
func reclassifyShellRisk(base tools.Risk, command string) tools.Risk {
	for _, p := range destructiveShellPatterns {
		if p.MatchString(command) {
			return tools.RiskRed
		}
	}
	for _, p := range readOnlyAllowlist {
		if p.MatchString(command) {
			return tools.RiskGreen
		}
	}
	return base
}

// Framework is the Governance component. It never panics: on internal
// failure it fails closed and requires approval rather than letting a tool
// call through uninspected.
type Framework struct {
	approvals *approval.Store
}

// New creates a Framework backed by an Approval Store.
func New(approvals *approval.Store) *Framework {
	return &Framework{approvals: approvals}
}

// Decide applies the risk/environment rule table and returns a Decision. It
// is designed to never raise: any internal error is converted to
// RequireApproval with reason "governance unavailable".
func (f *Framework) Decide(req InvocationRequest) Decision {
	defer func() {
		// defensive: Decide itself has no panicking paths today, but if one
		// is ever introduced this recovers it into the required fail-closed
		// decision rather than letting it escape to the caller.
		recover()
	}()

	if req.Tool == nil {
		return Decision{Kind: DecisionRequireApproval, Reason: "governance unavailable: no tool"}
	}

	if req.Tool.Name() == tools.SelfModifyToolName {
		return f.decideSelfModify(req)
	}

	risk := req.Tool.Risk()
	if req.Tool.Name() == "bash" {
		if cmd, ok := req.Args["command"].(string); ok {
			risk = reclassifyShellRisk(risk, cmd)
		}
	}

	if allowed := req.Tool.AllowedContexts(); len(allowed) > 0 {
		if !contains(allowed, req.Environment) {
			return Decision{Kind: DecisionDeny, Reason: fmt.Sprintf("tool %q is not allowed in environment %q", req.Tool.Name(), req.Environment)}
		}
	}

	switch risk {
	case tools.RiskGreen:
		return Decision{Kind: DecisionExecute, Reason: "green risk"}
	case tools.RiskYellow:
		if autoApproveEnvironments[req.Environment] {
			return Decision{Kind: DecisionAutoApprove, Reason: fmt.Sprintf("yellow risk auto-approved in %s", req.Environment)}
		}
		reason := "yellow risk in production requires approval"
		if req.DryRun {
			return Decision{Kind: DecisionDeny, Reason: "dry run: " + reason}
		}
		return f.requireApproval(req, string(risk), reason)
	case tools.RiskRed:
		reason := "red risk always requires approval"
		if req.DryRun {
			return Decision{Kind: DecisionDeny, Reason: "dry run: " + reason}
		}
		return f.requireApproval(req, string(risk), reason)
	default:
		return Decision{Kind: DecisionRequireApproval, Reason: "governance unavailable: unknown risk tag"}
	}
}

// requireApproval gates req behind an operator decision. It first checks
// whether this exact (task, tool, args) invocation has already been
// through the Approval Store — decided or still pending — so that
// re-proposing the same call (e.g. an LLM repeating itself, or a resumed
// run re-evaluating the same step) resolves to the existing decision
// instead of opening a second, unrelated approval request for one
// real-world action.
func (f *Framework) requireApproval(req InvocationRequest, risk, reason string) Decision {
	if f.approvals == nil {
		return Decision{Kind: DecisionRequireApproval, Reason: "governance unavailable: no approval store"}
	}

	if existing, ok := f.approvals.FindPending(req.TaskID, req.Tool.Name(), req.Args); ok {
		switch existing.Verdict {
		case approval.VerdictApproved:
			return Decision{Kind: DecisionExecute, Reason: "previously approved", ApprovalID: existing.ID}
		case approval.VerdictRejected:
			return Decision{Kind: DecisionDeny, Reason: "previously rejected", ApprovalID: existing.ID}
		default:
			return Decision{Kind: DecisionRequireApproval, Reason: reason, ApprovalID: existing.ID}
		}
	}

	plan := NewChangePlan(reason, []PlannedAction{
		{Tool: req.Tool.Name(), Description: describeInvocation(req.Tool.Name(), req.Args), Risk: tools.Risk(risk)},
	})

	a, err := f.approvals.CreatePending(approval.PendingInvocation{
		TaskID: req.TaskID, Tool: req.Tool.Name(), Risk: risk, Reason: reason,
		FormattedPlan: plan.FormatMarkdown(),
		Environment:   req.Environment, Args: req.Args,
		Conversation: req.Conversation, Iterations: req.Iterations,
	})
	if err != nil {
		return Decision{Kind: DecisionRequireApproval, Reason: "governance unavailable: " + err.Error()}
	}
	return Decision{Kind: DecisionRequireApproval, Reason: reason, ApprovalID: a.ID}
}

// describeInvocation renders a single proposed tool call as a one-line
// description for its ChangePlan entry, truncating args to keep the
// rendered plan readable.
func describeInvocation(tool string, args map[string]interface{}) string {
	b, err := json.Marshal(args)
	if err != nil {
		return tool
	}
	s := string(b)
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return fmt.Sprintf("%s(%s)", tool, s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// --- Self-modification governance hook ---

// SelfModifySeverity gates the pre-registered self_modify_codebase tool,
// mirroring original_source/governance.py's special-cased check_permission
// branch. No code-mutation capability is implemented here — only the
// governance hook a future tool could call into.
type SelfModifySeverity string

const (
	SeverityLow      SelfModifySeverity = "low"
	SeverityHigh     SelfModifySeverity = "high"
)

// CheckSelfModify always requires approval outside dev, and requires
// approval for high-severity issues even in dev.
func CheckSelfModify(environment string, severity SelfModifySeverity) Decision {
	if environment != "dev" {
		return Decision{Kind: DecisionRequireApproval, Reason: "self_modify_codebase outside dev always requires approval"}
	}
	if severity == SeverityHigh {
		return Decision{Kind: DecisionRequireApproval, Reason: "high-severity self-modification requires approval even in dev"}
	}
	return Decision{Kind: DecisionAutoApprove, Reason: "low-severity self-modification auto-approved in dev"}
}

// decideSelfModify routes a self_modify_codebase invocation through
// CheckSelfModify's severity-aware rule instead of the generic risk table,
// then — when that rule lands on RequireApproval — persists the Approval
// the same way the generic path does, so the CLI's approve/resume surface
// works identically for this tool.
func (f *Framework) decideSelfModify(req InvocationRequest) Decision {
	severity := SeverityLow
	if s, ok := req.Args["severity"].(string); ok && SelfModifySeverity(s) == SeverityHigh {
		severity = SeverityHigh
	}

	decision := CheckSelfModify(req.Environment, severity)
	if decision.Kind != DecisionRequireApproval {
		return decision
	}
	if req.DryRun {
		return Decision{Kind: DecisionDeny, Reason: "dry run: " + decision.Reason}
	}
	return f.requireApproval(req, string(tools.RiskRed), decision.Reason)
}

// --- Plan & Apply ---

// PlannedAction is one step of a ChangePlan.
type PlannedAction struct {
	Tool        string
	Description string
	Risk        tools.Risk
}

// ChangePlan groups proposed actions by risk tier for operator review
// before any of them run, grounded on original_source/governance.py's
// PlanAndApply.create_plan/format_plan.
type ChangePlan struct {
	ID      string
	Task    string
	Actions []PlannedAction
}

// NewChangePlan builds a plan summary with per-risk-tier counts.
func NewChangePlan(task string, actions []PlannedAction) *ChangePlan {
	return &ChangePlan{ID: uuid.NewString(), Task: task, Actions: actions}
}

// RiskSummary counts actions per risk tier.
func (p *ChangePlan) RiskSummary() map[tools.Risk]int {
	summary := map[tools.Risk]int{}
	for _, a := range p.Actions {
		summary[a.Risk]++
	}
	return summary
}

// FormatMarkdown renders the plan as Markdown with emoji risk indicators,
// matching original_source/governance.py's format_plan.
func (p *ChangePlan) FormatMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Plan: %s\n\n", p.Task)
	summary := p.RiskSummary()
	fmt.Fprintf(&b, "%d green, %d yellow, %d red\n\n", summary[tools.RiskGreen], summary[tools.RiskYellow], summary[tools.RiskRed])
	for _, a := range p.Actions {
		fmt.Fprintf(&b, "- %s **%s** — %s\n", riskEmoji(a.Risk), a.Tool, a.Description)
	}
	return b.String()
}

func riskEmoji(r tools.Risk) string {
	switch r {
	case tools.RiskGreen:
		return "🟢"
	case tools.RiskYellow:
		return "🟡"
	default:
		return "🔴"
	}
}
