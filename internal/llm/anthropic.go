package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
)

// AnthropicRates holds the per-1k-token dollar rates for a single model,
// since Claude pricing varies by model tier.
type AnthropicRates struct {
	InputPer1k  float64
	OutputPer1k float64
}

// AnthropicProvider adapts the Anthropic Messages API to the Provider
// contract, grounded on src/internal/llm/adapters.go's FantasyAdapter but
// calling anthropic-sdk-go directly instead of going through charm.land/fantasy.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	rates  AnthropicRates
}

// NewAnthropicProvider builds a provider for the given model, reading its
// API key from the environment the way the Auth Broker's env-vault pattern
// expects (ANTHROPIC_API_KEY).
func NewAnthropicProvider(apiKey, model string, rates AnthropicRates) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: &client, model: model, rates: rates}
}

func (p *AnthropicProvider) Name() string { return "anthropic:" + p.model }

func (p *AnthropicProvider) Rates() (float64, float64) { return p.rates.InputPer1k, p.rates.OutputPer1k }

func (p *AnthropicProvider) EstimateTokens(text string) int { return estimateTokensChars(text) }

func (p *AnthropicProvider) Invoke(ctx context.Context, messages []agentcontext.Message, stopSequences []string) (string, error) {
	return withRetry(ctx, func() (string, error) {
		system, msgs := toAnthropicMessages(messages)
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(p.model),
			MaxTokens: 4096,
			Messages:  msgs,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if len(stopSequences) > 0 {
			params.StopSequences = stopSequences
		}
		resp, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("anthropic: %w", err)
		}
		var out strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				out.WriteString(block.Text)
			}
		}
		return out.String(), nil
	})
}

func (p *AnthropicProvider) InvokeAsync(ctx context.Context, messages []agentcontext.Message) <-chan Result {
	return invokeAsync(ctx, p.Invoke, messages)
}

func toAnthropicMessages(messages []agentcontext.Message) (string, []anthropic.MessageParam) {
	var system strings.Builder
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case agentcontext.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		case agentcontext.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case agentcontext.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case agentcontext.RoleTool:
			label := fmt.Sprintf("[tool:%s ok=%v]\n%s", m.ToolName, m.ToolResultOK, m.Content)
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(label)))
		}
	}
	return system.String(), out
}
