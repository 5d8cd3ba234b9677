// Package llm provides chat-completion providers used to review
// translations. Every provider supports JSON-object replies.
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Message represents an LLM message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest represents a chat request to the LLM.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`

	// JSON asks the model to reply with a single JSON object.
	JSON bool `json:"json,omitempty"`
}

// ChatResponse represents a chat response from the LLM.
type ChatResponse struct {
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`

	// Fingerprint identifies the backend configuration, when the provider
	// reports one.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Chat sends a chat request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string      `toml:"provider" yaml:"provider"` // openai, openai-compat, anthropic, google
	Model     string      `toml:"model" yaml:"model"`
	APIKey    string      `toml:"api_key" yaml:"api_key"`
	BaseURL   string      `toml:"base_url" yaml:"base_url"`
	MaxTokens int         `toml:"max_tokens" yaml:"max_tokens"`
	Retry     RetryConfig `toml:"retry" yaml:"retry"`

	// RequestsPerMinute paces callers; zero means unpaced.
	RequestsPerMinute int `toml:"requests_per_minute" yaml:"requests_per_minute"`
}

// RetryConfig holds retry settings for LLM calls.
type RetryConfig struct {
	MaxRetries  int           `toml:"max_retries" yaml:"max_retries"`   // default 5
	MaxBackoff  time.Duration `toml:"max_backoff" yaml:"max_backoff"`   // default 60s
	InitBackoff time.Duration `toml:"init_backoff" yaml:"init_backoff"` // default 1s
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" && c.Provider != "openai-compat" {
		return fmt.Errorf("api key is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens is required")
	}
	return nil
}

// --- Mock Provider for Testing ---

// MockProvider is a mock LLM provider for testing. It is safe for
// concurrent use.
type MockProvider struct {
	mu           sync.Mutex
	response     string
	fingerprint  string
	inputTokens  int
	outputTokens int
	requests     []ChatRequest
	err          error

	// ChatFunc can be overridden for custom behavior
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// SetResponse sets the response content.
func (p *MockProvider) SetResponse(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response = content
}

// SetFingerprint sets the reported backend fingerprint.
func (p *MockProvider) SetFingerprint(fp string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fingerprint = fp
}

// SetTokenCounts sets the token counts.
func (p *MockProvider) SetTokenCounts(input, output int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputTokens = input
	p.outputTokens = output
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Requests returns every request received so far.
func (p *MockProvider) Requests() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// CallCount returns the number of Chat calls made.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Chat implements the Provider interface.
func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	fn := p.ChatFunc
	resp := &ChatResponse{
		Content:      p.response,
		StopReason:   "stop",
		InputTokens:  p.inputTokens,
		OutputTokens: p.outputTokens,
		Model:        "mock",
		Fingerprint:  p.fingerprint,
	}
	err := p.err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
