package panel

import (
	"net/http"
	"strings"
	"time"

	"github.com/basket/clawdeck/internal/otel"
	"github.com/basket/clawdeck/internal/shared"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// statusWriter remembers the status code so the tracing middleware can
// tag the span and duration metric with it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so the websocket upgrade can
// reach the connection hijacker through the wrapper.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// NewTraceMiddleware tags every request with a trace and request ID,
// wraps it in a server span and records its duration. Incoming
// X-Request-ID headers are honored so callers can correlate logs.
func NewTraceMiddleware(tracer trace.Tracer, metrics *otel.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = shared.NewRequestID()
			}
			ctx := shared.WithTraceID(r.Context(), shared.NewTraceID())
			ctx = shared.WithRequestID(ctx, requestID)
			w.Header().Set("X-Request-ID", requestID)

			var span trace.Span
			if tracer != nil {
				ctx, span = otel.StartServerSpan(ctx, tracer, r.Method+" "+r.URL.Path,
					otel.AttrRoute.String(r.URL.Path),
				)
				defer span.End()
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))

			if span != nil {
				span.SetAttributes(attribute.Int("http.status_code", sw.status))
			}
			if metrics != nil {
				metrics.RequestDuration.Record(ctx, time.Since(start).Seconds(),
					metric.WithAttributes(
						otel.AttrRoute.String(r.URL.Path),
						attribute.Int("http.status_code", sw.status),
					),
				)
			}
		})
	}
}

// NewCORSMiddleware allows cross-origin requests from the listed
// origins. An empty list returns a pass-through wrapper: the panel is
// same-origin by default.
func NewCORSMiddleware(allowOrigins []string) func(http.Handler) http.Handler {
	if len(allowOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	origins := make(map[string]bool)
	allowAll := false
	for _, o := range allowOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	methodStr := strings.Join([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}, ", ")
	headerStr := strings.Join([]string{"Content-Type", "Authorization"}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || origins[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", methodStr)
				w.Header().Set("Access-Control-Allow-Headers", headerStr)
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestSizeLimitMiddleware limits request body size to prevent abuse.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 2 * 1024 * 1024 // 2MB default, config documents are small
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
