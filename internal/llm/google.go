package llm

import (
	"context"
	"fmt"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	agentcontext "github.com/youcefjd/orchestration-core/internal/context"
)

// GoogleRates holds the per-1k-token dollar rates for a single Gemini model.
type GoogleRates struct {
	InputPer1k  float64
	OutputPer1k float64
}

// GoogleProvider adapts the Gemini API to the Provider contract.
type GoogleProvider struct {
	client *genai.Client
	model  string
	rates  GoogleRates
}

// NewGoogleProvider builds a provider for the given Gemini model, reading
// its API key from the environment (GOOGLE_API_KEY).
func NewGoogleProvider(ctx context.Context, apiKey, model string, rates GoogleRates) (*GoogleProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	return &GoogleProvider{client: client, model: model, rates: rates}, nil
}

func (p *GoogleProvider) Name() string { return "google:" + p.model }

func (p *GoogleProvider) Rates() (float64, float64) { return p.rates.InputPer1k, p.rates.OutputPer1k }

func (p *GoogleProvider) EstimateTokens(text string) int { return estimateTokensChars(text) }

func (p *GoogleProvider) Invoke(ctx context.Context, messages []agentcontext.Message, stopSequences []string) (string, error) {
	return withRetry(ctx, func() (string, error) {
		model := p.client.GenerativeModel(p.model)
		if len(stopSequences) > 0 {
			model.StopSequences = stopSequences
		}
		system, turns := toGoogleParts(messages)
		if system != "" {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		}
		session := model.StartChat()
		session.History = turns[:len(turns)-1]
		resp, err := session.SendMessage(ctx, turns[len(turns)-1].Parts...)
		if err != nil {
			return "", fmt.Errorf("google: %w", err)
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("google: empty response")
		}
		text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
		if !ok {
			return "", fmt.Errorf("google: non-text response part")
		}
		return string(text), nil
	})
}

func (p *GoogleProvider) InvokeAsync(ctx context.Context, messages []agentcontext.Message) <-chan Result {
	return invokeAsync(ctx, p.Invoke, messages)
}

func (p *GoogleProvider) Close() error { return p.client.Close() }

func toGoogleParts(messages []agentcontext.Message) (string, []*genai.Content) {
	var system string
	var out []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case agentcontext.RoleSystem:
			system = m.Content
		case agentcontext.RoleUser:
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case agentcontext.RoleAssistant:
			out = append(out, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		case agentcontext.RoleTool:
			text := fmt.Sprintf("[tool:%s ok=%v]\n%s", m.ToolName, m.ToolResultOK, m.Content)
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(text)}})
		}
	}
	if len(out) == 0 {
		out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text("")}})
	}
	return system, out
}
