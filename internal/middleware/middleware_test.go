package middleware

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newPromRouter(t *testing.T) (*PrometheusMiddleware, *mux.Router) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMiddleware(reg)
	if err != nil {
		t.Fatalf("failed to create middleware: %v", err)
	}

	r := mux.NewRouter()
	r.Use(m.Handler())
	r.HandleFunc("/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	r.HandleFunc("/uploads", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}).Methods("POST")
	r.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")
	return m, r
}

func TestPrometheusMiddleware_CountsByRouteTemplate(t *testing.T) {
	m, r := newPromRouter(t)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/documents/123", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/documents/456", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/uploads", nil))

	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("GET", "/documents/{id}", "200")); got != 2 {
		t.Errorf("expected 2 requests for /documents/{id}, got %f", got)
	}
	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("POST", "/uploads", "400")); got != 1 {
		t.Errorf("expected 1 failed upload, got %f", got)
	}
	if testutil.CollectAndCount(m.requestDuration) == 0 {
		t.Error("expected histogram samples")
	}
}

func TestPrometheusMiddleware_ExcludesMetrics(t *testing.T) {
	m, r := newPromRouter(t)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))

	if n := testutil.CollectAndCount(m.requestCount); n != 0 {
		t.Errorf("expected /metrics to be excluded, got %d series", n)
	}
}

func TestNewPrometheusMiddleware_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMiddleware(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPrometheusMiddleware(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := CORSMiddleware("https://notes.example", "GET,POST", "Content-Type")(next)

	req := httptest.NewRequest("OPTIONS", "/api/v1/documents", nil)
	req.Header.Set("Origin", "https://notes.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected preflight 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://notes.example" {
		t.Errorf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest("GET", "/api/v1/documents", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected request to reach handler, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow origin for unknown origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("credentials should never be advertised, got %q", got)
	}
}

func TestCORSMiddleware_OriginLists(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name      string
		allowed   string
		origin    string
		wantAllow string
		wantVary  string
	}{
		{"wildcard", "*", "https://any.example", "*", ""},
		{"wildcard without origin header", "*", "", "*", ""},
		{"listed with spaces", "https://a.example, https://b.example", "https://b.example", "https://b.example", "Origin"},
		{"unlisted", "https://a.example", "https://b.example", "", ""},
		{"empty list", "", "https://a.example", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORSMiddleware(tt.allowed, "GET", "Content-Type")(next)
			req := httptest.NewRequest("GET", "/api/v1/documents", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
			if got := rec.Header().Get("Vary"); got != tt.wantVary {
				t.Errorf("vary = %q, want %q", got, tt.wantVary)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
				t.Errorf("unexpected credentials header %q", got)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Errorf("clientIP() = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := clientIP(req); got != "1.2.3.4" {
		t.Errorf("clientIP() with XFF = %q", got)
	}
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	h := LoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/uploads?x=1", nil))
	line := buf.String()
	for _, want := range []string{"POST /api/v1/uploads?x=1", "Status: 201", "Bytes: 5"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	if buf.Len() != 0 {
		t.Errorf("health checks should not be logged, got %q", buf.String())
	}
}
