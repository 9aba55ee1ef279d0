package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectPatternByKeyword(t *testing.T) {
	b := New(nil, "", "")
	if b.detectPattern("aws-deploy") != PatternHost {
		t.Fatal("expected aws identity to use host pattern")
	}
	if b.detectPattern("github-notifier") != PatternOAuth {
		t.Fatal("expected github identity to use oauth pattern")
	}
	if b.detectPattern("internal-billing-api") != PatternEnv {
		t.Fatal("expected unknown identity to default to env pattern")
	}
}

func TestOverridesTakePrecedence(t *testing.T) {
	b := New(map[string]PatternKind{"custom": PatternOAuth}, "", "")
	if b.detectPattern("custom") != PatternOAuth {
		t.Fatal("expected override to win over default table")
	}
}

func TestRequireEnvReadyWhenVarSet(t *testing.T) {
	os.Setenv("WIDGET_API_KEY", "present")
	defer os.Unsetenv("WIDGET_API_KEY")

	b := New(nil, "", "")
	res := b.Require(context.Background(), "widget")
	if res.Status != StatusReady {
		t.Fatalf("expected ready, got %v: %v", res.Status, res.Prompt)
	}
}

func TestRequireEnvNeedsActionWhenUnset(t *testing.T) {
	b := New(nil, "", "")
	res := b.Require(context.Background(), "totallyunsetservice")
	if res.Status != StatusNeedAction {
		t.Fatal("expected need_action for missing env credentials")
	}
	if res.Hint == "" {
		t.Fatal("expected a hint with the candidate env var name")
	}
}

func TestRequireOAuthReadyWhenTokenFilePresent(t *testing.T) {
	dir := t.TempDir()
	tokenDir := filepath.Join(dir, "tokens")
	os.MkdirAll(tokenDir, 0755)
	os.WriteFile(filepath.Join(tokenDir, "github.json"), []byte(`{}`), 0644)

	b := New(nil, dir, tokenDir)
	res := b.Require(context.Background(), "github")
	if res.Status != StatusReady {
		t.Fatalf("expected ready when token file exists, got %v", res.Status)
	}
}

func TestRequireOAuthNeedsActionWithAuthURL(t *testing.T) {
	b := New(nil, t.TempDir(), t.TempDir())
	res := b.Require(context.Background(), "github")
	if res.Status != StatusNeedAction {
		t.Fatal("expected need_action without a token file")
	}
	if res.Hint == "" {
		t.Fatal("expected an authorization URL hint")
	}
}

func TestNeverAcceptsRawCredentialsFromTaskText(t *testing.T) {
	// Require's signature takes only an identity name; there is no
	// parameter through which task text could inject a credential value.
	b := New(nil, "", "")
	res := b.Require(context.Background(), "some-identity; api_key=leaked-secret")
	if res.Status == StatusReady {
		// identity string containing "=" never short-circuits the probes
		t.Fatal("identity text must never itself satisfy a credential check")
	}
}
