package middleware_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/EmpoweredVote/instance-registry/internal/middleware"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/log"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// call runs one request through h and returns the recorded response.
func call(t *testing.T, h http.Handler, method, origin, remote string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, "/test", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestCORS_AllowedOrigin verifies an allow-listed origin is echoed back.
func TestCORS_AllowedOrigin(t *testing.T) {
	h := middleware.CORS([]string{"https://app.example/"})(ok)

	rec := call(t, h, http.MethodGet, "https://app.example", "")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("expected origin to be echoed, got %q", got)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Errorf("expected Vary: Origin")
	}
}

// TestCORS_UnknownOrigin verifies other origins get no allow header but the request still runs.
func TestCORS_UnknownOrigin(t *testing.T) {
	h := middleware.CORS([]string{"https://app.example"})(ok)

	rec := call(t, h, http.MethodGet, "https://evil.example", "")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin header, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestCORS_Wildcard(t *testing.T) {
	h := middleware.CORS([]string{"*"})(ok)

	rec := call(t, h, http.MethodGet, "https://anything.example", "")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example" {
		t.Errorf("expected wildcard to allow origin, got %q", got)
	}
}

// TestCORS_Preflight verifies OPTIONS short-circuits with 204.
func TestCORS_Preflight(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := middleware.CORS([]string{"https://app.example"})(inner)

	rec := call(t, h, http.MethodOptions, "https://app.example", "")

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if called {
		t.Errorf("preflight must not reach the handler")
	}
}

// TestRateLimit_PerClient verifies the burst is enforced per client IP.
func TestRateLimit_PerClient(t *testing.T) {
	h := middleware.RateLimit(0.001, 2)(ok)

	for i := 0; i < 2; i++ {
		if rec := call(t, h, http.MethodPost, "", "10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := call(t, h, http.MethodPost, "", "10.0.0.1:5678")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Errorf("expected Retry-After header")
	}

	if rec := call(t, h, http.MethodPost, "", "10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("other clients are unaffected, got %d", rec.Code)
	}
}

// TestRequestLogger verifies one record carrying status and request id.
func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewLogfmtLogger(&buf)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := chimw.RequestID(middleware.RequestLogger(logger)(inner))

	call(t, h, http.MethodGet, "", "")

	line := buf.String()
	for _, want := range []string{"msg=request", "method=GET", "path=/test", "status=418", "request_id="} {
		if !strings.Contains(line, want) {
			t.Errorf("expected log line to contain %q, got: %q", want, line)
		}
	}
}
