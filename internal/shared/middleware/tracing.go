package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"bankfeed/internal/shared/auth"
)

var (
	httpTracer             = otel.Tracer("bankfeed/http")
	httpMeter              = otel.Meter("bankfeed/http")
	httpRequestDuration, _ = httpMeter.Float64Histogram("http.server.route.duration",
		metric.WithDescription("HTTP request duration per route in seconds"),
		metric.WithUnit("s"),
	)
	httpRequestTotal, _ = httpMeter.Int64Counter("http.server.route.total",
		metric.WithDescription("Total HTTP requests per route"),
	)
)

// Tracing opens a span per matched route and records route metrics. It is
// meant to wrap individual mux handlers so the route pattern is known.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Pattern
		if route == "" {
			route = r.Method + " " + r.URL.Path
		}

		ctx, span := httpTracer.Start(r.Context(), route,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		if p, ok := auth.PrincipalFrom(ctx); ok {
			span.SetAttributes(attribute.Int64("tenant.id", p.TenantID))
		}
		if id := r.PathValue("id"); id != "" {
			span.SetAttributes(attribute.String("resource.id", id))
		}

		start := time.Now()
		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		status := wrapped.status
		if status == 0 {
			status = http.StatusOK
		}

		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		attrs := metric.WithAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		httpRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		httpRequestTotal.Add(ctx, 1, attrs)
	})
}
