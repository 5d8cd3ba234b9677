package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/kawashirov/vrc-localization-checker/telemetry"
)

// TracingProvider wraps a Provider with OpenTelemetry tracing.
type TracingProvider struct {
	provider     Provider
	providerName string
}

// WithTracing wraps a provider with tracing instrumentation.
func WithTracing(p Provider, providerName string) *TracingProvider {
	return &TracingProvider{
		provider:     p,
		providerName: providerName,
	}
}

// Unwrap returns the traced provider.
func (tp *TracingProvider) Unwrap() Provider {
	return tp.provider
}

// Chat implements Provider with tracing.
func (tp *TracingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	tracer := telemetry.GetTracer()

	ctx, span := tracer.StartLLMSpan(ctx, "llm."+tp.providerName)

	resp, err := tp.provider.Chat(ctx, req)

	opts := telemetry.LLMSpanOptions{
		Provider: tp.providerName,
	}
	if resp != nil {
		opts.Model = resp.Model
		opts.TokensIn = resp.InputTokens
		opts.TokensOut = resp.OutputTokens
		opts.Response = resp.Content
	}

	// Prompt text is only attached in debug mode
	if tracer.Debug() {
		var parts []string
		for _, msg := range req.Messages {
			parts = append(parts, fmt.Sprintf("[%s] %s", msg.Role, msg.Content))
		}
		opts.Prompt = strings.Join(parts, "\n")
	}

	tracer.EndLLMSpan(span, opts, err)

	return resp, err
}

// ListModels forwards to the wrapped provider when it can list models.
func (tp *TracingProvider) ListModels(ctx context.Context) ([]string, error) {
	lister, ok := tp.provider.(ModelLister)
	if !ok {
		return nil, fmt.Errorf("%s provider cannot list models", tp.providerName)
	}
	return lister.ListModels(ctx)
}
