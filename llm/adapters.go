package llm

import (
	"fmt"
	"strings"
)

// NewProvider creates a provider from cfg, wrapped with tracing.
// If Provider is empty, it is inferred from the model name.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProviderFromModel(cfg.Model)
		if cfg.Provider == "" {
			return nil, fmt.Errorf("cannot determine provider for model %q; set provider explicitly", cfg.Model)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "openai":
		p, err = NewOpenAIProvider(cfg)

	case "openai-compat":
		// Any OpenAI-compatible endpoint (DeepSeek, OpenRouter, LiteLLM, Ollama)
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url is required for provider %s", cfg.Provider)
		}
		p, err = NewOpenAIProvider(cfg)

	case "anthropic":
		p, err = NewAnthropicProvider(cfg)

	case "google":
		p, err = NewGoogleProvider(cfg)

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTracing(p, cfg.Provider), nil
}

// InferProviderFromModel returns the provider name based on model name patterns.
func InferProviderFromModel(model string) string {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"),
		strings.HasPrefix(model, "chatgpt"):
		return "openai"
	case strings.HasPrefix(model, "gemini"),
		strings.HasPrefix(model, "gemma"):
		return "google"
	}
	return ""
}
