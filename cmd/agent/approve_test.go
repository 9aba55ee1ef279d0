package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/youcefjd/orchestration-core/internal/approval"
)

func newApprovalApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := tempStorageDir(t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	return &App{
		Approvals: approval.New(filepath.Join(dir, "approvals.json")),
		Stdout:    &out,
		Stderr:    &out,
	}, &out
}

func TestApproveListPlainFallback(t *testing.T) {
	app, out := newApprovalApp(t)
	a, err := app.Approvals.Create("task-1", "bash", "red", "run rm -rf /tmp/scratch", "")
	if err != nil {
		t.Fatal(err)
	}

	cmd := ApproveListCmd{Status: "pending", NoTUI: true}
	if err := cmd.Run(app); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), a.ID[:8]) {
		t.Errorf("expected approval id in listing, got %q", out.String())
	}
	if !strings.Contains(out.String(), "run rm -rf /tmp/scratch") {
		t.Errorf("expected reason in listing, got %q", out.String())
	}
}

func TestApproveListEmpty(t *testing.T) {
	app, out := newApprovalApp(t)

	cmd := ApproveListCmd{Status: "pending", NoTUI: true}
	if err := cmd.Run(app); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "no approvals") {
		t.Errorf("expected empty-state message, got %q", out.String())
	}
}

func TestApproveShowUnknownID(t *testing.T) {
	app, _ := newApprovalApp(t)

	cmd := ApproveShowCmd{ID: "does-not-exist", NoTUI: true}
	if err := cmd.Run(app); err == nil {
		t.Fatal("expected error for unknown approval id")
	}
}

func TestApproveShowPlainFallback(t *testing.T) {
	app, out := newApprovalApp(t)
	a, err := app.Approvals.Create("task-2", "write_file", "yellow", "overwrite config.toml", "## Plan\n- write config.toml")
	if err != nil {
		t.Fatal(err)
	}

	cmd := ApproveShowCmd{ID: a.ID, NoTUI: true}
	if err := cmd.Run(app); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "overwrite config.toml") {
		t.Errorf("expected reason in detail output, got %q", out.String())
	}
	if !strings.Contains(out.String(), "## Plan") {
		t.Errorf("expected formatted plan in detail output, got %q", out.String())
	}
	if !strings.Contains(out.String(), "agent approve approve") {
		t.Errorf("expected resume hint for a pending approval, got %q", out.String())
	}
}

func TestApproveApproveRecordsVerdictAndHintsResume(t *testing.T) {
	app, out := newApprovalApp(t)
	a, err := app.Approvals.Create("task-3", "docker_exec", "red", "restart container", "")
	if err != nil {
		t.Fatal(err)
	}

	cmd := ApproveApproveCmd{ID: a.ID, Note: "looks fine"}
	if err := cmd.Run(app); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := app.Approvals.Get(a.ID)
	if !ok {
		t.Fatal("expected approval to still exist")
	}
	if got.Verdict != approval.VerdictApproved {
		t.Errorf("expected approved verdict, got %q", got.Verdict)
	}
	if got.Note != "looks fine" {
		t.Errorf("expected note to be recorded, got %q", got.Note)
	}
	if !strings.Contains(out.String(), "agent execute --resume") {
		t.Errorf("expected resume hint, got %q", out.String())
	}
}

func TestApproveRejectRecordsVerdict(t *testing.T) {
	app, _ := newApprovalApp(t)
	a, err := app.Approvals.Create("task-4", "bash", "red", "delete logs", "")
	if err != nil {
		t.Fatal(err)
	}

	cmd := ApproveRejectCmd{ID: a.ID, Reason: "too risky to run unattended"}
	if err := cmd.Run(app); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := app.Approvals.Get(a.ID)
	if got.Verdict != approval.VerdictRejected {
		t.Errorf("expected rejected verdict, got %q", got.Verdict)
	}
	if got.Note != "too risky to run unattended" {
		t.Errorf("expected rejection reason to be recorded as the verdict note, got %q", got.Note)
	}
}

func TestApproveApproveUnknownID(t *testing.T) {
	app, _ := newApprovalApp(t)

	cmd := ApproveApproveCmd{ID: "missing"}
	if err := cmd.Run(app); err == nil {
		t.Fatal("expected error for unknown approval id")
	}
}

func TestIsTerminalOnNonTTYFile(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	if err != nil {
		t.Fatal(err)
	}
	defer tmp.Close()

	if isTerminal(tmp) {
		t.Error("expected a regular file not to be reported as a terminal")
	}
}
