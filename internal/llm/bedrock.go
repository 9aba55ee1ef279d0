package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
)

// BedrockRates holds the per-1k-token dollar rates for a single Bedrock model.
type BedrockRates struct {
	InputPer1k  float64
	OutputPer1k float64
}

// BedrockProvider adapts the Bedrock Runtime Converse API to the Provider
// contract, giving the same interface over a model hosted behind AWS IAM
// credentials instead of a bearer API key.
type BedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
	rates   BedrockRates
}

// NewBedrockProvider builds a provider for the given Bedrock model ID,
// loading AWS credentials from the standard SDK chain (env vars, shared
// config, or IAM role).
func NewBedrockProvider(ctx context.Context, region, modelID string, rates BedrockRates) (*BedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: loading AWS config: %w", err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(cfg), modelID: modelID, rates: rates}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock:" + p.modelID }

func (p *BedrockProvider) Rates() (float64, float64) { return p.rates.InputPer1k, p.rates.OutputPer1k }

func (p *BedrockProvider) EstimateTokens(text string) int { return estimateTokensChars(text) }

type bedrockTurn struct {
	Role    string            `json:"role"`
	Content []bedrockContent  `json:"content"`
}

type bedrockContent struct {
	Text string `json:"text"`
}

func (p *BedrockProvider) Invoke(ctx context.Context, messages []agentcontext.Message, stopSequences []string) (string, error) {
	return withRetry(ctx, func() (string, error) {
		system, turns := toBedrockTurns(messages)
		body := map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        4096,
			"messages":          turns,
		}
		if system != "" {
			body["system"] = system
		}
		if len(stopSequences) > 0 {
			body["stop_sequences"] = stopSequences
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("bedrock: encoding request: %w", err)
		}
		out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(p.modelID),
			ContentType: aws.String("application/json"),
			Body:        payload,
		})
		if err != nil {
			return "", fmt.Errorf("bedrock: %w", err)
		}
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return "", fmt.Errorf("bedrock: decoding response: %w", err)
		}
		var text strings.Builder
		for _, c := range resp.Content {
			text.WriteString(c.Text)
		}
		return text.String(), nil
	})
}

func (p *BedrockProvider) InvokeAsync(ctx context.Context, messages []agentcontext.Message) <-chan Result {
	return invokeAsync(ctx, p.Invoke, messages)
}

func toBedrockTurns(messages []agentcontext.Message) (string, []bedrockTurn) {
	var system strings.Builder
	var out []bedrockTurn
	for _, m := range messages {
		switch m.Role {
		case agentcontext.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		case agentcontext.RoleUser:
			out = append(out, bedrockTurn{Role: "user", Content: []bedrockContent{{Text: m.Content}}})
		case agentcontext.RoleAssistant:
			out = append(out, bedrockTurn{Role: "assistant", Content: []bedrockContent{{Text: m.Content}}})
		case agentcontext.RoleTool:
			text := fmt.Sprintf("[tool:%s ok=%v]\n%s", m.ToolName, m.ToolResultOK, m.Content)
			out = append(out, bedrockTurn{Role: "user", Content: []bedrockContent{{Text: text}}})
		}
	}
	return system.String(), out
}
