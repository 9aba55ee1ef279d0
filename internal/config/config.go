// Package config loads orchestration-core configuration from TOML and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment is a Task environment tag.
type Environment string

const (
	EnvDev        Environment = "dev"
	EnvStaging    Environment = "staging"
	EnvLocal      Environment = "local"
	EnvProduction Environment = "production"
)

// Config is the orchestration core's full configuration.
type Config struct {
	Environment Environment   `toml:"environment"`
	LLM         LLMConfig     `toml:"llm"`
	Cost        CostConfig    `toml:"cost"`
	Context     ContextConfig `toml:"context"`
	Routing     RoutingConfig `toml:"routing"`
	Storage     StorageConfig `toml:"storage"`
	Auth        AuthConfig    `toml:"auth"`
}

// LLMConfig selects and configures the LLM Provider.
type LLMConfig struct {
	Provider  string `toml:"provider"` // anthropic|openai|google|bedrock
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
}

// CostConfig mirrors the Cost Tracker's budgets.
type CostConfig struct {
	MaxCostPerTask   float64 `toml:"max_cost_per_task"`
	MaxCostPerHour   float64 `toml:"max_cost_per_hour"`
	MaxTokensPerTask int     `toml:"max_tokens_per_task"`
	WarnAtPercent    float64 `toml:"warn_at_percent"`
}

// ContextConfig mirrors the Context Manager's pruning policy.
type ContextConfig struct {
	MaxTokens                  int `toml:"max_tokens"`
	KeepLastNUserMessages      int `toml:"keep_last_n_user_messages"`
	KeepLastNAssistantMessages int `toml:"keep_last_n_assistant_messages"`
}

// RoutingConfig selects the Router strategy.
type RoutingConfig struct {
	UseSemanticRouting bool `toml:"use_semantic_routing"`
}

// StorageConfig names the directory holding the JSON ledgers.
type StorageConfig struct {
	Path string `toml:"path"`
}

// AuthConfig overrides the Auth Broker's default identity-pattern table.
type AuthConfig struct {
	Patterns map[string]string `toml:"patterns"` // identity name -> "host"|"env"|"oauth"
}

// New returns a Config populated with sensible defaults.
func New() *Config {
	return &Config{
		Environment: EnvProduction, // safest default: never silently auto-approve
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Cost: CostConfig{
			MaxCostPerTask:   0.50,
			MaxCostPerHour:   10.0,
			MaxTokensPerTask: 100000,
			WarnAtPercent:    0.8,
		},
		Context: ContextConfig{
			MaxTokens:                  8000,
			KeepLastNUserMessages:      3,
			KeepLastNAssistantMessages: 3,
		},
		Storage: StorageConfig{
			Path: ".",
		},
	}
}

// LoadFile loads configuration from a TOML file, falling back to defaults for
// anything unset.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadDefault loads agent.toml from the current directory if present, and
// always applies environment-variable overrides.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	path := filepath.Join(cwd, "agent.toml")
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := New()
		cfg.applyEnv()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadDotEnv loads a .env file into the process environment (non-clobbering),
// feeding the Auth Broker's env-vault pattern.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil // absence is not an error
	}
	return godotenv.Load(path)
}

// applyEnv overlays recognized environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = Environment(v)
	}
	if v := os.Getenv("MAX_COST_PER_TASK"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Cost.MaxCostPerTask = f
		}
	}
	if v := os.Getenv("MAX_COST_PER_HOUR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Cost.MaxCostPerHour = f
		}
	}
	if v := os.Getenv("MAX_TOKENS_PER_TASK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cost.MaxTokensPerTask = n
		}
	}
	if v := os.Getenv("MAX_CONTEXT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Context.MaxTokens = n
		}
	}
	if v := os.Getenv("KEEP_LAST_N_USER_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Context.KeepLastNUserMessages = n
		}
	}
	if v := os.Getenv("KEEP_LAST_N_ASSISTANT_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Context.KeepLastNAssistantMessages = n
		}
	}
	if v := os.Getenv("USE_SEMANTIC_ROUTING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Routing.UseSemanticRouting = b
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

// GetAPIKey returns the API key for the configured LLM provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the conventional environment variable for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "bedrock":
		return "AWS_ACCESS_KEY_ID"
	default:
		return ""
	}
}
