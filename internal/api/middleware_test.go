package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := &rateLimiter{requests: make(map[string][]time.Time), limit: 2, window: time.Minute}

	steps := []struct {
		key  string
		at   time.Duration
		want bool
	}{
		{"ana", 0, true},
		{"ana", 10 * time.Second, true},
		{"ana", 20 * time.Second, false},
		{"ben", 20 * time.Second, true},
		{"ana", 61 * time.Second, true}, // first request left the window
		{"ana", 65 * time.Second, false},
	}
	for i, s := range steps {
		if got := rl.allow(s.key, base.Add(s.at)); got != s.want {
			t.Fatalf("step %d (%s at %v): allow = %v, want %v", i, s.key, s.at, got, s.want)
		}
	}
}

func TestRateLimitMiddlewareKeys(t *testing.T) {
	handler := RateLimitMiddleware(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	send := func(agent, addr string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		if agent != "" {
			req.Header.Set("X-Agent-ID", agent)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("ana", "10.0.0.1:1"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send("ana", "10.0.0.2:1"); code != http.StatusTooManyRequests {
		t.Errorf("agent id is the key, expected 429, got %d", code)
	}
	if code := send("", "10.0.0.1:1"); code != http.StatusOK {
		t.Errorf("anonymous caller keyed by address, expected 200, got %d", code)
	}
	if code := send("", "10.0.0.1:1"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for repeated address, got %d", code)
	}
}

func TestRequestLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	called := false
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Agent-ID", "test-agent")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("inner handler was not called")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestAgentIDMiddleware(t *testing.T) {
	var seen string
	handler := AgentIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = agentID(r)
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without header, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("X-Agent-ID", "ana")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK || seen != "ana" {
		t.Errorf("expected 200 with agent ana, got %d %q", w.Code, seen)
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"wrong", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"valid", "s3cret", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			AdminAuthMiddleware(tt.token)(ok).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}
