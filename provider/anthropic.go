package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
	anthropicMaxTokens      = 4096
)

// AnthropicProvider implements Provider with the official Anthropic Go SDK.
type AnthropicProvider struct {
	client  *anthropic.Client
	model   anthropic.Model
	baseURL string
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(baseURL, apiKey, model string, opts ...option.RequestOption) (*AnthropicProvider, error) {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if model == "" {
		model = defaultAnthropicModel
	}

	opts = append([]option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	}, opts...)
	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client:  &client,
		model:   anthropic.Model(model),
		baseURL: baseURL,
	}, nil
}

func (p *AnthropicProvider) params(messages []Message) anthropic.MessageNewParams {
	anthropicMessages, systemPrompt := convertToAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     p.model,
		Messages:  anthropicMessages,
		MaxTokens: anthropicMaxTokens,
	}
	if len(systemPrompt) > 0 {
		params.System = systemPrompt
	}
	return params
}

// Chat implements Provider.Chat with streaming support.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, callback StreamCallback) error {
	stream := p.client.Messages.NewStreaming(ctx, p.params(messages))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if callback != nil && deltaVariant.Text != "" {
					if err := callback(deltaVariant.Text); err != nil {
						return err
					}
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return wrapUpstream("Anthropic streaming error", err)
	}

	return nil
}

// Complete implements Provider.Complete.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	msg, err := p.client.Messages.New(ctx, p.params(messages))
	if err != nil {
		return "", wrapUpstream("Anthropic completion error", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (p *AnthropicProvider) GetModel() string {
	return string(p.model)
}

func (p *AnthropicProvider) Type() ProviderType {
	return ProviderTypeAnthropic
}
