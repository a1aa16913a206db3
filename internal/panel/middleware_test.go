package panel

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/basket/clawdeck/internal/shared"
)

func TestCORS_DisabledByDefault(t *testing.T) {
	h := NewCORSMiddleware(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers with empty allowlist")
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	h := NewCORSMiddleware([]string{"http://localhost:5173"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("expected allow-origin header, got %q", got)
	}
}

func TestCORS_UnlistedOriginGetsNoHeaders(t *testing.T) {
	h := NewCORSMiddleware([]string{"http://localhost:5173"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers for unlisted origin")
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { called = true })
	h := NewCORSMiddleware([]string{"*"})(inner)

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", w.Code)
	}
	if called {
		t.Fatal("inner handler should not run on preflight")
	}
}

func TestTrace_AttachesIDsToContext(t *testing.T) {
	var traceID, requestID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.TraceID(r.Context())
		requestID = shared.RequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := NewTraceMiddleware(nil, nil)(inner)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if traceID == "" || traceID == "-" {
		t.Fatalf("expected a trace id on the request context, got %q", traceID)
	}
	if requestID == "" {
		t.Fatal("expected a request id on the request context")
	}
	if got := w.Header().Get("X-Request-ID"); got != requestID {
		t.Fatalf("response request id %q, context had %q", got, requestID)
	}
}

func TestTrace_HonorsCallerRequestID(t *testing.T) {
	var requestID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = shared.RequestID(r.Context())
	})
	h := NewTraceMiddleware(nil, nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if requestID != "caller-supplied" {
		t.Fatalf("expected caller request id to win, got %q", requestID)
	}
}

func TestRequestSizeLimit_RejectsOversizedBody(t *testing.T) {
	h := RequestSizeLimitMiddleware(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(strings.Repeat("a", 64)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}
