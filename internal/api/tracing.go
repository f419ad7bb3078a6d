package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	attrRenderKind = "photoid.render_kind"
	attrPreset     = "photoid.preset"
	attrUser       = "photoid.user"
	attrJobID      = "photoid.job_id"
	attrFallback   = "photoid.fallback"
)

// withTracing opens a server span per request. Handlers annotate it through
// trace.SpanFromContext once they know the preset or job.
func (s *Server) withTracing(next http.Handler) http.Handler {
	if s.tracer == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
		)
		if kind := renderKind(route); kind != "" {
			span.SetAttributes(attribute.String(attrRenderKind, kind))
		}
		if user := strings.TrimSpace(r.Header.Get(UserIDHeader)); user != "" {
			span.SetAttributes(attribute.String(attrUser, user))
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			telemetry.Fail(span, fmt.Errorf("%s %s: status %d", r.Method, route, recorder.status))
		}
	})
}

func renderKind(route string) string {
	switch route {
	case "/v1/photos":
		return domain.OutputPhoto
	case "/v1/sheets":
		return domain.OutputSheet
	case "/v1/previews":
		return domain.OutputPreview
	case "/v1/crops":
		return "crop"
	default:
		return ""
	}
}
