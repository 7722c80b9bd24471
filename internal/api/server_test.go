package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"prologd-judge/internal/config"
	"prologd-judge/internal/grading"
	"prologd-judge/internal/judge"
	"prologd-judge/internal/monitor"
)

type fakeInterpreter struct{ healthy bool }

func (f fakeInterpreter) Healthy() bool      { return f.healthy }
func (f fakeInterpreter) ActiveCount() int64 { return 0 }

func newTestServer(t *testing.T, mutate func(*config.Config), interp Interpreter) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Security.AllowUnauthenticated = true
	if mutate != nil {
		mutate(cfg)
	}
	metrics := monitor.NewMetrics()
	svc := judge.NewService(&fakeExecutor{}, grading.NewEvaluator(cfg.Grading.MaxRoutineBytes), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewServer(ctx, cfg, svc, interp, nil, nil, metrics).Handler()
}

func TestServer_Routes(t *testing.T) {
	handler := newTestServer(t, nil, fakeInterpreter{healthy: true})

	tests := []struct {
		method string
		path   string
		body   any
		want   int
	}{
		{http.MethodPost, "/debug", DebugRequest{Code: "?тест."}, http.StatusOK},
		{http.MethodPost, "/debug/", DebugRequest{Code: "?тест."}, http.StatusOK},
		{http.MethodPost, "/testing", TestingRequest{Code: "?тест.", Checker: equalityChecker}, http.StatusOK},
		{http.MethodPost, "/testing/", TestingRequest{Code: "?тест.", Checker: equalityChecker}, http.StatusOK},
		{http.MethodGet, "/debug", nil, http.StatusMethodNotAllowed},
		{http.MethodGet, "/runs", nil, http.StatusServiceUnavailable},
		{http.MethodGet, "/health", nil, http.StatusOK},
		{http.MethodGet, "/metrics", nil, http.StatusOK},
		{http.MethodPost, "/execute", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var body bytes.Buffer
			if tt.body != nil {
				json.NewEncoder(&body).Encode(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, &body)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
			if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Error("missing security headers")
			}
		})
	}
}

func TestServer_AuthGuardsJudgeRoutesOnly(t *testing.T) {
	handler := newTestServer(t, func(cfg *config.Config) {
		cfg.Security.AllowUnauthenticated = false
		cfg.Security.AllowedKeys = []string{"secret"}
	}, fakeInterpreter{healthy: true})

	body := `{"code":"?тест."}`
	req := httptest.NewRequest(http.MethodPost, "/debug", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/debug", strings.NewReader(body))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health should bypass auth, got %d", rec.Code)
	}
}

func TestServer_HealthDegradedWithoutInterpreter(t *testing.T) {
	handler := newTestServer(t, nil, fakeInterpreter{healthy: false})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503", rec.Code)
	}
	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "degraded" || resp.Interpreter || !resp.Database {
		t.Errorf("unexpected health: %+v", resp)
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	handler := newTestServer(t, func(cfg *config.Config) {
		cfg.Metrics.Enabled = false
	}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code == http.StatusOK {
		t.Error("metrics should not be served when disabled")
	}
}

func TestServer_BodyLimit(t *testing.T) {
	handler := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxRequestBody = 64
	}, nil)

	body := `{"code":"` + strings.Repeat("a", 200) + `"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", rec.Code)
	}
}
