package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/youcefjd/orchestration-core/internal/agent"
	"github.com/youcefjd/orchestration-core/internal/agentfile"
	"github.com/youcefjd/orchestration-core/internal/approval"
	"github.com/youcefjd/orchestration-core/internal/auth"
	"github.com/youcefjd/orchestration-core/internal/config"
	"github.com/youcefjd/orchestration-core/internal/cost"
	"github.com/youcefjd/orchestration-core/internal/estop"
	"github.com/youcefjd/orchestration-core/internal/factledger"
	"github.com/youcefjd/orchestration-core/internal/governance"
	"github.com/youcefjd/orchestration-core/internal/llm"
	"github.com/youcefjd/orchestration-core/internal/orchestrator"
	"github.com/youcefjd/orchestration-core/internal/router"
	"github.com/youcefjd/orchestration-core/internal/tools"
)

// Build-time variables (set via ldflags).
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// App carries the wired components every command needs, built once in main
// and injected into command Run methods via kong.Bind, rather than
// re-initializing storage-backed state per command.
type App struct {
	Config        *config.Config
	Approvals     *approval.Store
	EmergencyStop *estop.Switch
	Orchestrator  *orchestrator.Orchestrator
	Stdout        io.Writer
	Stderr        io.Writer
}

func main() {
	_ = config.LoadDotEnv("")

	app, err := buildApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}

	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.FatalIfErrorf(err)
		return
	}

	if err := ctx.Run(app); err != nil {
		fmt.Fprintf(app.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}

// buildApp loads configuration and wires every package's storage-backed
// component against the configured workspace.
func buildApp() (*App, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	storageDir := cfg.Storage.Path
	if storageDir == "" {
		storageDir = "."
	}
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	approvals := approval.New(filepath.Join(storageDir, "approvals.json"))
	es := estop.New()
	costTracker := cost.New(limitsFromConfig(cfg), filepath.Join(storageDir, "cost_history.json"))
	ledger := factledger.New(filepath.Join(storageDir, "fact_ledger.json"))
	gov := governance.New(approvals)

	toolRegistry := tools.New()
	tools.RegisterBuiltins(toolRegistry, storageDir)

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	rt := agent.NewRuntime(provider, toolRegistry, gov, costTracker)
	rt.EmergencyStop = es
	rt.Auth = auth.New(authOverridesFromConfig(cfg), filepath.Join(storageDir, ".secrets"), "")
	rt.FactLedger = ledger

	catalog := loadCatalog()
	r := router.New(provider, ledger, generalAgentName(catalog))
	r.UseSemantic = cfg.Routing.UseSemanticRouting

	orch := orchestrator.New(r, catalog.lookup, rt, es, ledger, generalAgentName(catalog))
	orch.AgentDescriptors = catalog.descriptors()
	orch.Approvals = approvals

	return &App{
		Config:        cfg,
		Approvals:     approvals,
		EmergencyStop: es,
		Orchestrator:  orch,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	}, nil
}

// authOverridesFromConfig converts the TOML-friendly string pattern names in
// AuthConfig.Patterns into the Auth Broker's typed PatternKind, skipping any
// entry that doesn't name a recognized pattern.
func authOverridesFromConfig(cfg *config.Config) map[string]auth.PatternKind {
	if len(cfg.Auth.Patterns) == 0 {
		return nil
	}
	out := make(map[string]auth.PatternKind, len(cfg.Auth.Patterns))
	for identity, kind := range cfg.Auth.Patterns {
		switch auth.PatternKind(kind) {
		case auth.PatternHost, auth.PatternEnv, auth.PatternOAuth:
			out[identity] = auth.PatternKind(kind)
		}
	}
	return out
}

func limitsFromConfig(cfg *config.Config) cost.Limits {
	limits := cost.DefaultLimits()
	if cfg.Cost.MaxCostPerTask > 0 {
		limits.MaxCostPerTask = cfg.Cost.MaxCostPerTask
	}
	if cfg.Cost.MaxCostPerHour > 0 {
		limits.MaxCostPerHour = cfg.Cost.MaxCostPerHour
	}
	if cfg.Cost.MaxTokensPerTask > 0 {
		limits.MaxTokensPerTask = cfg.Cost.MaxTokensPerTask
	}
	if cfg.Cost.WarnAtPercent > 0 {
		limits.WarnAtPercent = cfg.Cost.WarnAtPercent
	}
	return limits
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	apiKey := cfg.GetAPIKey()
	switch cfg.LLM.Provider {
	case "anthropic":
		return llm.NewAnthropicProvider(apiKey, modelOr(cfg.LLM.Model, "claude-sonnet-4-20250514"), llm.AnthropicRates{InputPer1k: 0.003, OutputPer1k: 0.015}), nil
	case "openai":
		return llm.NewOpenAIProvider(apiKey, modelOr(cfg.LLM.Model, "gpt-4o"), llm.OpenAIRates{InputPer1k: 0.0025, OutputPer1k: 0.01}), nil
	case "google":
		return llm.NewGoogleProvider(context.Background(), apiKey, modelOr(cfg.LLM.Model, "gemini-2.0-flash"), llm.GoogleRates{InputPer1k: 0.000075, OutputPer1k: 0.0003})
	case "bedrock":
		return llm.NewBedrockProvider(context.Background(), "us-east-1", modelOr(cfg.LLM.Model, "anthropic.claude-3-5-sonnet-20241022-v2:0"), llm.BedrockRates{InputPer1k: 0.003, OutputPer1k: 0.015})
	case "":
		return nil, nil // router degrades to default_fallback; execute without a configured provider fails loudly instead
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func modelOr(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

type agentCatalog struct {
	byName map[string]agent.Kind
	order  []string
	desc   map[string]string
}

func (a *agentCatalog) lookup(name string) (agent.Kind, bool) {
	kind, ok := a.byName[name]
	return kind, ok
}

func (a *agentCatalog) descriptors() []router.AgentDescriptor {
	out := make([]router.AgentDescriptor, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, router.AgentDescriptor{Name: name, Description: a.desc[name]})
	}
	return out
}

// loadCatalog loads the declared agent roster from ./agents.yaml (or a
// directory of catalog files at that path), falling back to a single
// built-in general-purpose agent when no catalog is present so the CLI is
// usable with zero configuration.
func loadCatalog() *agentCatalog {
	catalog := &agentCatalog{byName: map[string]agent.Kind{}, desc: map[string]string{}}

	path := "agents.yaml"
	if info, err := os.Stat(path); err == nil {
		var c *agentfile.Catalog
		var loadErr error
		if info.IsDir() {
			c, loadErr = agentfile.LoadDir(path)
		} else {
			c, loadErr = agentfile.LoadFile(path)
		}
		if loadErr == nil {
			for _, name := range c.Names() {
				spec, _ := c.Lookup(name)
				catalog.byName[name] = agent.Kind{
					Name:           spec.Name,
					SystemPrompt:   spec.Prompt,
					PreferredTools: spec.Tools.Preferred,
				}
				catalog.desc[name] = spec.Description
				catalog.order = append(catalog.order, name)
			}
		}
	}

	if len(catalog.order) == 0 {
		catalog.byName["general"] = agent.Kind{
			Name:         "general",
			SystemPrompt: "You are a careful, general-purpose agent. Use the available tools to accomplish the task, and explain your reasoning before each step.",
		}
		catalog.desc["general"] = "generalist fallback agent for tasks with no specialized match"
		catalog.order = []string{"general"}
	}

	return catalog
}

func generalAgentName(catalog *agentCatalog) string {
	for _, name := range catalog.order {
		if name == "general" {
			return name
		}
	}
	return catalog.order[0]
}
