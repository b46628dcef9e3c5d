// Package provider streams chat completions from the upstream LLM APIs the
// backend forwards to.
//
// OpenAI and Anthropic sit behind one Provider interface so the chat
// handler stays upstream-agnostic. The upstream for a request is picked from
// the caller's API key by ForCredential.
//
// # Usage
//
//	p, err := provider.ForCredential(key, cfg.Upstream)
//	if err != nil {
//	    return err
//	}
//	err = p.Chat(ctx, messages, func(delta string) error {
//	    // forward delta
//	    return nil
//	})
package provider

import "context"

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeAnthropic ProviderType = "anthropic"
)

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string
}

// Message is the provider-agnostic chat message.
type Message struct {
	Role    string
	Content string
}

// StreamCallback receives each content delta in order. Returning an error
// stops the stream and Chat returns that error.
type StreamCallback func(delta string) error

// Provider is an upstream chat completion API.
type Provider interface {
	// Chat sends messages and streams the reply through callback.
	Chat(ctx context.Context, messages []Message, callback StreamCallback) error

	// Complete sends messages and returns the whole reply.
	Complete(ctx context.Context, messages []Message) (string, error)

	// GetModel returns the model used for requests.
	GetModel() string

	// Type reports which upstream this is.
	Type() ProviderType
}
