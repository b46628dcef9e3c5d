package provider

import (
	"fmt"
	"strings"

	"lumen/config"
)

// AnthropicKeyPrefix marks keys issued by Anthropic. Every other valid key
// is sent to OpenAI.
const AnthropicKeyPrefix = "sk-ant-"

// NewProvider creates a provider based on configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Type {
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// TypeForCredential picks the upstream that issued key.
func TypeForCredential(key string) ProviderType {
	if strings.HasPrefix(strings.TrimSpace(key), AnthropicKeyPrefix) {
		return ProviderTypeAnthropic
	}
	return ProviderTypeOpenAI
}

// ForCredential builds the provider for key using the configured upstream
// endpoints and models.
func ForCredential(key string, upstream config.UpstreamConfig) (Provider, error) {
	cfg := Config{
		Type:   TypeForCredential(key),
		APIKey: strings.TrimSpace(key),
	}

	switch cfg.Type {
	case ProviderTypeAnthropic:
		cfg.BaseURL = upstream.AnthropicBaseURL
		cfg.Model = upstream.AnthropicModel
	default:
		cfg.BaseURL = upstream.OpenAIBaseURL
		cfg.Model = upstream.OpenAIModel
	}

	return NewProvider(cfg)
}
