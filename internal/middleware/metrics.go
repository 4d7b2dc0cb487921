package middleware

import (
	"net/http"
	"strconv"

	"github.com/cassiomorais/pos-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/pos-payments/pkg/clock"
)

// unmatchedRoute labels requests chi could not route, so probing random
// paths cannot grow the label set.
const unmatchedRoute = "unmatched"

// Metrics records request counts and latencies labelled by route pattern.
func Metrics(m *observability.Metrics, clk clock.Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := clk.Now()

			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := routePattern(r)
			if route == r.URL.Path && sw.statusCode == http.StatusNotFound {
				route = unmatchedRoute
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.statusCode)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(clk.Now().Sub(start).Seconds())
		})
	}
}

// statusWriter keeps the first status written; later WriteHeader calls are
// ignored by net/http anyway.
type statusWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
