package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request. Once chi has routed the request
// the span is renamed to "METHOD /route/{pattern}" so payment and refund IDs
// stay out of span names. Probe and scrape endpoints are not traced.
func Tracing(service string, opts ...otelhttp.Option) func(http.Handler) http.Handler {
	opts = append([]otelhttp.Option{otelhttp.WithFilter(traced)}, opts...)

	return func(next http.Handler) http.Handler {
		named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			span := trace.SpanFromContext(r.Context())
			span.SetName(r.Method + " " + routePattern(r))
			if r.Header.Get("Idempotency-Key") != "" {
				span.SetAttributes(attribute.Bool("http.request.idempotency_key", true))
			}
		})
		return otelhttp.NewHandler(named, service, opts...)
	}
}

func traced(r *http.Request) bool {
	return !isProbe(r.URL.Path)
}

// routePattern returns the matched chi pattern, or the raw path when the
// request was not routed by chi.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
