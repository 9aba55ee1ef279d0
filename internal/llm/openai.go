package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
)

// OpenAIRates holds the per-1k-token dollar rates for a single model.
type OpenAIRates struct {
	InputPer1k  float64
	OutputPer1k float64
}

// OpenAIProvider adapts the Chat Completions API to the Provider contract.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	rates  OpenAIRates
}

// NewOpenAIProvider builds a provider for the given model, reading its API
// key from the environment (OPENAI_API_KEY).
func NewOpenAIProvider(apiKey, model string, rates OpenAIRates) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{client: &client, model: model, rates: rates}
}

func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

func (p *OpenAIProvider) Rates() (float64, float64) { return p.rates.InputPer1k, p.rates.OutputPer1k }

func (p *OpenAIProvider) EstimateTokens(text string) int { return estimateTokensChars(text) }

func (p *OpenAIProvider) Invoke(ctx context.Context, messages []agentcontext.Message, stopSequences []string) (string, error) {
	return withRetry(ctx, func() (string, error) {
		params := openai.ChatCompletionNewParams{
			Model:    p.model,
			Messages: toOpenAIMessages(messages),
		}
		if len(stopSequences) > 0 {
			params.Stop = openai.ChatCompletionNewParamsStopUnion{
				OfStringArray: stopSequences,
			}
		}
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("openai: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai: empty choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

func (p *OpenAIProvider) InvokeAsync(ctx context.Context, messages []agentcontext.Message) <-chan Result {
	return invokeAsync(ctx, p.Invoke, messages)
}

func toOpenAIMessages(messages []agentcontext.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case agentcontext.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case agentcontext.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case agentcontext.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case agentcontext.RoleTool:
			out = append(out, openai.UserMessage(fmt.Sprintf("[tool:%s ok=%v]\n%s", m.ToolName, m.ToolResultOK, m.Content)))
		}
	}
	return out
}
