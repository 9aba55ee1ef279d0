package cost

import (
	"path/filepath"
	"testing"
)

func TestRecordAndEnsureWithinLimits(t *testing.T) {
	tr := New(DefaultLimits(), filepath.Join(t.TempDir(), "cost_history.json"))
	rates := ProviderRates{CostPer1KInput: 0.003, CostPer1KOutput: 0.015}

	tr.Record("task-1", 1000, 1000, rates)
	warnings, err := tr.EnsureWithinLimits("task-1")
	if err != nil {
		t.Fatalf("expected no breach yet, got %v", err)
	}
	_ = warnings
}

func TestPerTaskCostCeilingBreach(t *testing.T) {
	tr := New(DefaultLimits(), filepath.Join(t.TempDir(), "cost_history.json"))
	rates := ProviderRates{CostPer1KInput: 10, CostPer1KOutput: 10}

	tr.Record("task-1", 100000, 0, rates) // way over $0.50
	_, err := tr.EnsureWithinLimits("task-1")
	if err == nil {
		t.Fatal("expected cost limit error")
	}
	limErr, ok := err.(*ErrCostLimit)
	if !ok {
		t.Fatalf("expected *ErrCostLimit, got %T", err)
	}
	if limErr.Kind != LimitCostPerTask {
		t.Fatalf("expected LimitCostPerTask, got %v", limErr.Kind)
	}
}

func TestPerTaskTokenCeilingBreach(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxCostPerTask = 1000 // disable cost ceiling for this test
	tr := New(limits, filepath.Join(t.TempDir(), "cost_history.json"))
	rates := ProviderRates{CostPer1KInput: 0.001, CostPer1KOutput: 0.001}

	tr.Record("task-1", limits.MaxTokensPerTask, 0, rates)
	_, err := tr.EnsureWithinLimits("task-1")
	if err == nil {
		t.Fatal("expected token limit error")
	}
	limErr := err.(*ErrCostLimit)
	if limErr.Kind != LimitTokensPerTask {
		t.Fatalf("expected LimitTokensPerTask, got %v", limErr.Kind)
	}
}

func TestWarningAtEightyPercent(t *testing.T) {
	tr := New(DefaultLimits(), filepath.Join(t.TempDir(), "cost_history.json"))
	rates := ProviderRates{CostPer1KInput: 1, CostPer1KOutput: 0}
	// 0.4 cost is 80% of 0.50
	tr.Record("task-1", 400, 0, rates)
	warnings, err := tr.EnsureWithinLimits("task-1")
	if err != nil {
		t.Fatalf("unexpected breach: %v", err)
	}
	found := false
	for _, w := range warnings {
		if w.Kind == LimitCostPerTask {
			found = true
		}
	}
	if !found {
		t.Fatal("expected cost-per-task warning at 80%")
	}
}

func TestResetTask(t *testing.T) {
	tr := New(DefaultLimits(), filepath.Join(t.TempDir(), "cost_history.json"))
	rates := ProviderRates{CostPer1KInput: 10, CostPer1KOutput: 10}
	tr.Record("task-1", 100000, 0, rates)
	tr.ResetTask("task-1")
	_, err := tr.EnsureWithinLimits("task-1")
	if err != nil {
		t.Fatalf("expected reset task to clear breach, got %v", err)
	}
}

func TestHistoryPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost_history.json")
	rates := ProviderRates{CostPer1KInput: 1, CostPer1KOutput: 1}

	tr1 := New(DefaultLimits(), path)
	tr1.Record("task-1", 100, 100, rates)

	tr2 := New(DefaultLimits(), path)
	hourCost := tr2.hourlyCost[hourKey(tr2.history[0].Timestamp)]
	if hourCost <= 0 {
		t.Fatal("expected hourly aggregate to survive reload")
	}
}
