package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestRecoverer_LogsPanicWithStackTrace(t *testing.T) {
	logger, hook := test.NewNullLogger()

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic message")
	})
	handler := Recoverer(logger)(panicHandler)

	req := httptest.NewRequest("GET", "/test-endpoint", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("Body missing error code: %s", rec.Body.String())
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Level != logrus.ErrorLevel {
		t.Errorf("level = %v, want error", entry.Level)
	}
	if entry.Data["panic"] != "test panic message" {
		t.Errorf("panic field = %v", entry.Data["panic"])
	}
	if entry.Data["path"] != "/test-endpoint" {
		t.Errorf("path field = %v", entry.Data["path"])
	}
	stack, _ := entry.Data["stack"].(string)
	if !strings.Contains(stack, "goroutine") {
		t.Errorf("stack field missing goroutine trace: %q", stack)
	}
}

func TestRecoverer_NoPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/normal", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if len(hook.AllEntries()) != 0 {
		t.Errorf("expected no log entries, got %d", len(hook.AllEntries()))
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
		{"Content-Security-Policy", apiCSP},
	}
	for _, tt := range tests {
		if got := rec.Header().Get(tt.header); got != tt.expected {
			t.Errorf("Header %s = %q, want %q", tt.header, got, tt.expected)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be set on plain HTTP")
	}
}

func TestSecurityHeaders_HSTSBehindProxy(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS for forwarded https request")
	}
}

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		status    int
		wantLevel logrus.Level
		wantLog   bool
	}{
		{"quiet success", false, http.StatusOK, 0, false},
		{"verbose success", true, http.StatusOK, logrus.InfoLevel, true},
		{"client error", false, http.StatusNotFound, logrus.WarnLevel, true},
		{"server error", false, http.StatusInternalServerError, logrus.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			handler := RequestLogger(logger, tt.verbose)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/alerts", nil))

			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("X-Request-ID not set")
			}
			entry := hook.LastEntry()
			if !tt.wantLog {
				if entry != nil {
					t.Errorf("unexpected log entry: %v", entry.Data)
				}
				return
			}
			if entry == nil {
				t.Fatal("expected a log entry")
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", entry.Level, tt.wantLevel)
			}
			if entry.Data["status"] != tt.status {
				t.Errorf("status field = %v, want %d", entry.Data["status"], tt.status)
			}
		})
	}
}

func TestRequestLogger_KeepsIncomingRequestID(t *testing.T) {
	logger, _ := test.NewNullLogger()
	handler := RequestLogger(logger, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want abc123", got)
	}
}

func TestWrappersFlush(t *testing.T) {
	logger, _ := test.NewNullLogger()
	handler := RequestLogger(logger, false)(PrometheusMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Flusher")
		}
		w.Write([]byte("data: x\n\n"))
		f.Flush()
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/events", nil))
	if !rec.Flushed {
		t.Error("expected response to be flushed")
	}
}
