package factledger

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func TestShouldAvoidAtExactlyThreeFailures(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	l.RecordFailure("docker-agent", "restart_container", "sig-1", "timed out")
	if l.ShouldAvoid("restart_container", "sig-1") {
		t.Fatal("should not avoid after 1 failure")
	}
	l.RecordFailure("docker-agent", "restart_container", "sig-1", "timed out")
	if l.ShouldAvoid("restart_container", "sig-1") {
		t.Fatal("should not avoid after 2 failures")
	}
	l.RecordFailure("docker-agent", "restart_container", "sig-1", "timed out")
	if !l.ShouldAvoid("restart_container", "sig-1") {
		t.Fatal("should avoid at exactly 3 failures")
	}
}

func TestAgentSuccessRate(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	l.RecordSuccess("agent-a", "deploy", "")
	l.RecordSuccess("agent-a", "deploy", "")
	l.RecordFailure("agent-a", "deploy", "sig", "")
	rate := l.AgentSuccessRate("agent-a")
	if rate < 0.66 || rate > 0.67 {
		t.Fatalf("expected ~0.667 success rate, got %f", rate)
	}
}

func TestAgentSuccessRateNoHistory(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	if l.AgentSuccessRate("unknown") != 0 {
		t.Fatal("expected zero rate for agent with no history")
	}
}

func TestFindSimilarKeywordOverlap(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	l.RecordSolution("container will not start due to port conflict", "free the port before restarting")
	l.RecordSolution("disk is full on the build server", "prune old docker images")

	matches := l.FindSimilar("container port conflict on startup", 5)
	if len(matches) == 0 {
		t.Fatal("expected at least one similar solution")
	}
	if matches[0].Solution != "free the port before restarting" {
		t.Fatalf("expected port-conflict solution ranked first, got %q", matches[0].Solution)
	}
}

func TestRecordSuccessSanitizesDetail(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	l.RecordSuccess("agent-a", "deploy", "used api_key=sk-abcdefgh12345678 to authenticate")

	l.mu.Lock()
	detail := l.entries[0].Detail
	l.mu.Unlock()

	if strings.Contains(detail, "sk-abcdefgh12345678") {
		t.Fatalf("expected api key to be redacted from detail, got %q", detail)
	}
}

func TestFindSimilarUsesIndexAboveThreshold(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	for i := 0; i < indexSearchThreshold+10; i++ {
		l.RecordSolution(fmt.Sprintf("unrelated noise entry %d", i), "irrelevant")
	}
	l.RecordSolution("container will not start due to port conflict", "free the port before restarting")

	matches := l.FindSimilar("container port conflict on startup", 5)
	if len(matches) == 0 {
		t.Fatal("expected the index-backed search to still surface the matching solution")
	}
	if matches[0].Solution != "free the port before restarting" {
		t.Fatalf("expected port-conflict solution ranked first, got %q", matches[0].Solution)
	}
}

func TestValidateBeforeExecutionWarnsOnPriorFailures(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	l.RecordFailure("docker-agent", "restart_container", "sig-1", "timed out")

	warnings := l.ValidateBeforeExecution("restart_container", map[string]interface{}{"signature": "sig-1"})
	if len(warnings) == 0 {
		t.Fatal("expected a warning for an action with a recorded prior failure")
	}
}

func TestValidateBeforeExecutionWarnsAtLoopThreshold(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	for i := 0; i < 3; i++ {
		l.RecordFailure("docker-agent", "restart_container", "sig-1", "timed out")
	}

	warnings := l.ValidateBeforeExecution("restart_container", map[string]interface{}{"signature": "sig-1"})
	joined := strings.Join(warnings, "; ")
	if !strings.Contains(joined, "loop-detection") {
		t.Fatalf("expected a loop-detection warning once the threshold is crossed, got %v", warnings)
	}
}

func TestValidateBeforeExecutionSilentWithNoHistory(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	warnings := l.ValidateBeforeExecution("deploy", map[string]interface{}{"signature": "unseen"})
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings with no matching history, got %v", warnings)
	}
}

func TestValidateBeforeExecutionWarnsWhenFailuresOutnumberSuccesses(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "fact_ledger.json"))
	l.RecordSuccess("agent-a", "deploy", "")
	for i := 0; i < 4; i++ {
		l.RecordFailure("agent-a", "deploy", fmt.Sprintf("sig-%d", i), "")
	}

	warnings := l.ValidateBeforeExecution("deploy", map[string]interface{}{"signature": "sig-new"})
	joined := strings.Join(warnings, "; ")
	if !strings.Contains(joined, "failed more often than it has succeeded") {
		t.Fatalf("expected a failure-rate warning, got %v", warnings)
	}
}

func TestPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fact_ledger.json")
	l1 := New(path)
	l1.RecordFailure("a", "x", "sig", "")

	l2 := New(path)
	if l2.FailureCount("x", "sig") != 1 {
		t.Fatal("expected failure to survive reload from disk")
	}
}
