package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Telemetry wraps an http.Handler with otelhttp server instrumentation.
func Telemetry(service string) func(http.Handler) http.Handler {
	return otelhttp.NewMiddleware(service)
}
