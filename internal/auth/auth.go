// Package auth implements the Auth Broker: detecting whether an identity's
// credentials are ready, and if not, telling the operator exactly what to
// do, without ever accepting raw credentials through task text.
package auth

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// PatternKind is one of the three credential-check strategies.
type PatternKind string

const (
	PatternHost  PatternKind = "host"
	PatternEnv   PatternKind = "env"
	PatternOAuth PatternKind = "oauth"
)

// Status is the result of Require.
type Status string

const (
	StatusReady      Status = "ready"
	StatusNeedAction Status = "need_action"
)

// Result is the outcome of a Require call.
type Result struct {
	Status Status
	Prompt string // human-readable instruction, set when Status == StatusNeedAction
	Hint   string // e.g. a shell command or authorization URL
}

// defaultPatterns maps identity-name keyword to PatternKind, grounded on
// original_source/auth_broker.py's _detect_auth_pattern.
var defaultPatterns = map[string]PatternKind{
	"aws":        PatternHost,
	"eks":        PatternHost,
	"kubernetes": PatternHost,
	"k8s":        PatternHost,
	"kubectl":    PatternHost,
	"terraform":  PatternHost,
	"gcloud":     PatternHost,
	"azure":      PatternHost,
	"gmail":      PatternOAuth,
	"google":     PatternOAuth,
	"calendar":   PatternOAuth,
	"spotify":    PatternOAuth,
	"github":     PatternOAuth,
	"oauth":      PatternOAuth,
}

// Broker is the Auth Broker, overridable with per-identity pattern
// overrides from config.
type Broker struct {
	Overrides map[string]PatternKind
	SecretsDir string
	TokenDir   string
}

// New creates a Broker. secretsDir/tokenDir default to ".secrets" and
// ".secrets/tokens" respectively if empty.
func New(overrides map[string]PatternKind, secretsDir, tokenDir string) *Broker {
	if secretsDir == "" {
		secretsDir = ".secrets"
	}
	if tokenDir == "" {
		tokenDir = secretsDir + "/tokens"
	}
	return &Broker{Overrides: overrides, SecretsDir: secretsDir, TokenDir: tokenDir}
}

func (b *Broker) detectPattern(identity string) PatternKind {
	if b.Overrides != nil {
		if p, ok := b.Overrides[identity]; ok {
			return p
		}
	}
	lower := strings.ToLower(identity)
	for keyword, kind := range defaultPatterns {
		if strings.Contains(lower, keyword) {
			return kind
		}
	}
	return PatternEnv
}

// Require checks whether identity's credentials are ready, returning
// instructions for the operator if not. Never accepts raw credentials
// through task text — the only inputs are the identity name and the
// broker's own probes.
func (b *Broker) Require(ctx context.Context, identity string) Result {
	switch b.detectPattern(identity) {
	case PatternHost:
		return b.checkHost(ctx, identity)
	case PatternOAuth:
		return b.checkOAuth(identity)
	default:
		return b.checkEnv(identity)
	}
}

func (b *Broker) checkHost(ctx context.Context, identity string) Result {
	lower := strings.ToLower(identity)
	switch {
	case strings.Contains(lower, "aws"):
		if probeCommand(ctx, "aws", "sts", "get-caller-identity") {
			return Result{Status: StatusReady}
		}
		return Result{
			Status: StatusNeedAction,
			Prompt: "AWS credentials are not configured or have expired.",
			Hint:   "aws configure",
		}
	case strings.Contains(lower, "k8s") || strings.Contains(lower, "kubernetes") || strings.Contains(lower, "kubectl"):
		if probeCommand(ctx, "kubectl", "cluster-info") {
			return Result{Status: StatusReady}
		}
		return Result{
			Status: StatusNeedAction,
			Prompt: "No reachable kubeconfig context.",
			Hint:   "kubectl config use-context <context-name>",
		}
	case strings.Contains(lower, "gcloud"):
		if probeCommand(ctx, "gcloud", "auth", "print-access-token") {
			return Result{Status: StatusReady}
		}
		return Result{Status: StatusNeedAction, Prompt: "gcloud is not authenticated.", Hint: "gcloud auth login"}
	case strings.Contains(lower, "azure"):
		if probeCommand(ctx, "az", "account", "show") {
			return Result{Status: StatusReady}
		}
		return Result{Status: StatusNeedAction, Prompt: "Azure CLI is not authenticated.", Hint: "az login"}
	case strings.Contains(lower, "terraform"):
		// terraform delegates to the underlying cloud's host credentials
		if probeCommand(ctx, "aws", "sts", "get-caller-identity") {
			return Result{Status: StatusReady}
		}
		return Result{Status: StatusNeedAction, Prompt: "Terraform's backing cloud credentials are not configured.", Hint: "aws configure"}
	}
	return Result{Status: StatusNeedAction, Prompt: fmt.Sprintf("no host-credential probe known for %q", identity)}
}

func probeCommand(ctx context.Context, name string, args ...string) bool {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Run() == nil
}

func (b *Broker) checkEnv(identity string) Result {
	upper := strings.ToUpper(strings.ReplaceAll(identity, "-", "_"))
	candidates := []string{upper + "_API_KEY", upper + "_TOKEN", upper + "_PASSWORD", upper + "_USER", upper + "_USERNAME"}
	for _, envVar := range candidates {
		if os.Getenv(envVar) != "" {
			return Result{Status: StatusReady}
		}
	}
	return Result{
		Status: StatusNeedAction,
		Prompt: fmt.Sprintf("No credentials found for %q in the environment or .env file.", identity),
		Hint:   fmt.Sprintf("export %s=<value>   # or add it to .env", candidates[0]),
	}
}

func (b *Broker) checkOAuth(identity string) Result {
	tokenPath := b.TokenDir + "/" + identity + ".json"
	if _, err := os.Stat(tokenPath); err == nil {
		return Result{Status: StatusReady}
	}
	return Result{
		Status: StatusNeedAction,
		Prompt: fmt.Sprintf("%q requires OAuth authorization.", identity),
		Hint:   oauthURL(identity),
	}
}

func oauthURL(identity string) string {
	switch {
	case strings.Contains(strings.ToLower(identity), "github"):
		return "https://github.com/login/oauth/authorize"
	case strings.Contains(strings.ToLower(identity), "spotify"):
		return "https://accounts.spotify.com/authorize"
	default:
		return "https://accounts.google.com/o/oauth2/v2/auth"
	}
}
