package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware_EmptyKeysRejectsRequests(t *testing.T) {
	handler := AuthMiddleware("", nil, false)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/debug", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_ExplicitAllowUnauthenticated(t *testing.T) {
	handler := AuthMiddleware("", nil, true)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/debug", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware_Keys(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"valid key", "X-Judge-Key", "good-key", http.StatusOK},
		{"bearer token", "Authorization", "Bearer good-key", http.StatusOK},
		{"invalid key", "X-Judge-Key", "bad-key", http.StatusUnauthorized},
		{"default header ignored", "X-API-Key", "good-key", http.StatusUnauthorized},
		{"missing key", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotHash string
			handler := AuthMiddleware("X-Judge-Key", []string{"good-key"}, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotHash = APIKeyHashFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/debug", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && len(gotHash) != 16 {
				t.Errorf("authenticated request should carry a key hash, got %q", gotHash)
			}
		})
	}
}

func TestRateLimitMiddleware_PerIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimitMiddleware(ctx, 1, 2)(okHandler)

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/debug", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("10.0.0.1:1000") != http.StatusOK || send("10.0.0.1:1001") != http.StatusOK {
		t.Fatal("burst should be allowed")
	}
	if got := send("10.0.0.1:1002"); got != http.StatusTooManyRequests {
		t.Errorf("got status %d, want 429 once the burst is spent", got)
	}
	if got := send("10.0.0.2:1000"); got != http.StatusOK {
		t.Errorf("other clients are limited separately, got %d", got)
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler := RateLimitMiddleware(context.Background(), 0, 0)(okHandler)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d limited with rps=0", i)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://judge.example"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/testing", nil)
	req.Header.Set("Origin", "https://judge.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight got %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://judge.example" {
		t.Errorf("got allow-origin %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/testing", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign preflight got %d, want 403", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("foreign origin must not be echoed")
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	handler := CORSMiddleware([]string{"*"})(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/debug", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example" {
		t.Errorf("got allow-origin %q", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("client request id not preserved: %q", seen)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 {
		t.Errorf("expected a generated UUID, got %q", seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want 500", rec.Code)
	}
}

func TestStatusRecorder_Flushes(t *testing.T) {
	rec := httptest.NewRecorder()
	var w http.ResponseWriter = &statusRecorder{ResponseWriter: rec, status: 200}
	f, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("statusRecorder must implement http.Flusher for event streams")
	}
	f.Flush()
	if !rec.Flushed {
		t.Error("flush was not forwarded")
	}
}
