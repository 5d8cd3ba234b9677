package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(debug bool) (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracerFromProvider(tp, "test", debug), rec
}

func attrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestTaskSpanStates(t *testing.T) {
	tr, rec := newRecordingTracer(false)

	_, ok := tr.StartTaskSpan(context.Background(), "sync", "1")
	tr.EndTaskSpan(ok, "completed", false, nil)

	_, aborted := tr.StartTaskSpan(context.Background(), "lang:en", "2")
	tr.EndTaskSpan(aborted, "shutdown_aborted", false, errors.New("shutdown requested"))

	_, failed := tr.StartTaskSpan(context.Background(), "folder", "3")
	tr.EndTaskSpan(failed, "failed", true, errors.New("line count mismatch"))

	spans := rec.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "task.sync", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "completed", attrs(spans[0])["task.state"].AsString())

	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "task.stopped", spans[1].Events()[0].Name)

	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.Equal(t, "3", attrs(spans[2])["task.id"].AsString())
}

func TestLLMSpanDebugContent(t *testing.T) {
	for _, debug := range []bool{false, true} {
		tr, rec := newRecordingTracer(debug)
		_, span := tr.StartLLMSpan(context.Background(), "llm.openai")
		tr.EndLLMSpan(span, LLMSpanOptions{
			Model:     "gpt-4o",
			Provider:  "openai",
			TokensIn:  120,
			TokensOut: 30,
			Prompt:    "translate",
			Response:  "{}",
		}, nil)

		a := attrs(rec.Ended()[0])
		assert.Equal(t, int64(120), a["llm.tokens.input"].AsInt64())
		_, hasPrompt := a["llm.prompt"]
		assert.Equal(t, debug, hasPrompt)
	}
}

func TestStoreSpan(t *testing.T) {
	tr, rec := newRecordingTracer(false)
	_, span := tr.StartStoreSpan(context.Background(), "insert_translations")
	tr.EndStoreSpan(span, 42, nil)

	s := rec.Ended()[0]
	assert.Equal(t, "store.insert_translations", s.Name())
	assert.Equal(t, int64(42), attrs(s)["db.rows"].AsInt64())
}

func TestSheetsSpan(t *testing.T) {
	tr, rec := newRecordingTracer(false)
	_, span := tr.StartSheetsSpan(context.Background(), "update", "doc")
	tr.EndSheetsSpan(span, errors.New("403"))

	s := rec.Ended()[0]
	assert.Equal(t, "sheets.update", s.Name())
	assert.Equal(t, "doc", attrs(s)["sheets.spreadsheet_id"].AsString())
	assert.Equal(t, codes.Error, s.Status().Code)
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.Same(t, p.Tracer(), GetTracer())
}

func TestSetupRejectsUnknownProtocol(t *testing.T) {
	_, err := Setup(context.Background(), Config{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
