package http

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	var seenID string
	handler := RequestIDMiddleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID, _ = r.Context().Value(RequestIDKey).(string)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seenID == "" {
		t.Error("no request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seenID {
		t.Errorf("X-Request-ID header = %q, want %q", got, seenID)
	}
}

func TestRequestIDMiddleware_PreservesCallerID(t *testing.T) {
	handler := RequestIDMiddleware(slog.Default())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("X-Request-ID", "caller-chosen")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "caller-chosen" {
		t.Errorf("X-Request-ID header = %q, want caller-chosen", got)
	}
}

func TestOriginAllowlist(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		origin   string
		wantCode int
	}{
		{name: "no origin passes", allowed: nil, origin: "", wantCode: http.StatusOK},
		{name: "listed origin passes", allowed: []string{"https://ok.example"}, origin: "https://ok.example", wantCode: http.StatusOK},
		{name: "unlisted origin blocked", allowed: []string{"https://ok.example"}, origin: "https://evil.example", wantCode: http.StatusForbidden},
		{name: "empty allowlist blocks any origin", allowed: nil, origin: "https://ok.example", wantCode: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := OriginAllowlist(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestExtractRealIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{name: "remote addr only", remoteAddr: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "x-forwarded-for first entry", remoteAddr: "10.0.0.1:1234", xff: "203.0.113.9, 10.0.0.2", want: "203.0.113.9"},
		{name: "x-real-ip fallback", remoteAddr: "10.0.0.1:1234", xri: " 203.0.113.7 ", want: "203.0.113.7"},
		{name: "malformed remote addr", remoteAddr: "not-host-port", want: "not-host-port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := extractRealIP(req); got != tt.want {
				t.Errorf("extractRealIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
