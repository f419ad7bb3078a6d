package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(h harness) *tracetest.SpanRecorder {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	h.server.tracer = provider.Tracer("photoid/api/test")
	return recorder
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestTracingAnnotatesRenderSpans(t *testing.T) {
	h := newHarness(t, nil)
	recorder := recordSpans(h)

	req := uploadRequest(t, "/v1/sheets", map[string]string{"preset": "35x45mm"})
	req.Header.Set(UserIDHeader, "user-9")
	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /v1/sheets", spans[0].Name())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)

	attrs := spanAttrs(spans[0])
	assert.Equal(t, domain.OutputSheet, attrs[attrRenderKind].AsString())
	assert.Equal(t, domain.PresetEU35x45, attrs[attrPreset].AsString())
	assert.Equal(t, "user-9", attrs[attrUser].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
}

func TestTracingMarksServerErrors(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Renderer = renderFunc(func(context.Context, []byte, domain.ResolvedOptions) (pipeline.Rendered, error) {
			return pipeline.Rendered{}, errors.New("model crashed")
		})
	})
	recorder := recordSpans(h)

	rec := h.do(uploadRequest(t, "/v1/photos", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, int64(http.StatusInternalServerError), spanAttrs(spans[0])["http.status_code"].AsInt64())

	// Client errors are not span failures.
	rec = h.do(uploadRequest(t, "/v1/photos", map[string]string{"background": "plaid"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	spans = recorder.Ended()
	require.Len(t, spans, 2)
	assert.NotEqual(t, codes.Error, spans[1].Status().Code)
}
