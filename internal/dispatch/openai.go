package dispatch

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls OpenAI's chat completions API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a provider from an API key. baseURL overrides the
// endpoint for tests, proxies, and OpenAI-compatible vendors.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends a single-turn user message. JSON mode is requested when the
// caller asked for JSON; OpenAI has no equivalent switch for YAML or TOML.
func (p *OpenAIProvider) Complete(ctx context.Context, model, prompt string, format Format) (*Completion, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if format == FormatJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyVendorError(p.Name(), model, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &AttemptError{
			Kind: FailureRefusal, Provider: p.Name(), Model: model,
			Message: "empty completion",
		}
	}
	return &Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
