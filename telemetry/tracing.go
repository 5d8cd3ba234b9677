// Package telemetry provides OpenTelemetry tracing for managed tasks, model
// requests and store operations.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with task-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include prompts and replies in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return Noop()
	}
	return globalTracer
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a tracer from the global OpenTelemetry provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from a specific provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (content in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Task Spans ---

// StartTaskSpan starts the span covering one managed task.
func (t *Tracer) StartTaskSpan(ctx context.Context, name, id string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "task."+name, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("task.name", name),
		attribute.String("task.id", id),
	)
	return ctx, span
}

// EndTaskSpan records the terminal state. Only failures mark the span as an
// error; aborted and cancelled tasks keep an unset status.
func (t *Tracer) EndTaskSpan(span trace.Span, state string, failed bool, err error) {
	span.SetAttributes(attribute.String("task.state", state))
	switch {
	case failed:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case err != nil:
		span.AddEvent("task.stopped", trace.WithAttributes(attribute.String("reason", err.Error())))
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- LLM Spans ---

// LLMSpanOptions contains options for LLM call spans.
type LLMSpanOptions struct {
	Model     string
	Provider  string
	TokensIn  int
	TokensOut int
	Prompt    string // Only included if debug=true
	Response  string // Only included if debug=true
}

// StartLLMSpan starts a span for an LLM call.
func (t *Tracer) StartLLMSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

// EndLLMSpan ends an LLM span with attributes.
func (t *Tracer) EndLLMSpan(span trace.Span, opts LLMSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", opts.Model),
		attribute.String("llm.provider", opts.Provider),
		attribute.Int("llm.tokens.input", opts.TokensIn),
		attribute.Int("llm.tokens.output", opts.TokensOut),
	}

	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("llm.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("llm.response", truncate(opts.Response, 4000)))
		}
	}

	span.SetAttributes(attrs...)
	endWithError(span, err)
}

// --- Store Spans ---

// StartStoreSpan starts a span for one database operation.
func (t *Tracer) StartStoreSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "store."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", op),
	)
	return ctx, span
}

// EndStoreSpan ends a store span, recording affected rows.
func (t *Tracer) EndStoreSpan(span trace.Span, rows int64, err error) {
	span.SetAttributes(attribute.Int64("db.rows", rows))
	endWithError(span, err)
}

// --- Spreadsheet Spans ---

// StartSheetsSpan starts a span for one spreadsheet API call.
func (t *Tracer) StartSheetsSpan(ctx context.Context, op, spreadsheetID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "sheets."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("sheets.spreadsheet_id", spreadsheetID))
	return ctx, span
}

// EndSheetsSpan ends a spreadsheet span.
func (t *Tracer) EndSheetsSpan(span trace.Span, err error) {
	endWithError(span, err)
}

func endWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
