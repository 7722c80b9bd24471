package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"prologd-judge/internal/config"
	"prologd-judge/internal/judge"
	"prologd-judge/internal/monitor"
	"prologd-judge/internal/storage"
)

// Interpreter reports on the sandboxed runner.
type Interpreter interface {
	Healthy() bool
	ActiveCount() int64
}

// Server is the main HTTP server for the judge API.
type Server struct {
	httpServer  *http.Server
	handlers    *Handlers
	cfg         *config.Config
	interpreter Interpreter
	db          *storage.DB
	startTime   time.Time
}

// NewServer creates and configures the HTTP server with all routes and
// middleware. db and auditWriter may be nil. ctx bounds background
// housekeeping such as rate limiter eviction.
func NewServer(ctx context.Context, cfg *config.Config, svc *judge.Service, interpreter Interpreter, db *storage.DB, auditWriter *storage.AuditWriter, metrics *monitor.Metrics) *Server {
	var store RunStore
	if db != nil {
		store = db
	}
	var audit AuditLogger
	if auditWriter != nil {
		audit = auditWriter
	}
	handlers := NewHandlers(svc, store, audit, cfg.Grading.MaxCases, cfg.CaseBudget())

	s := &Server{
		handlers:    handlers,
		cfg:         cfg,
		interpreter: interpreter,
		db:          db,
		startTime:   time.Now(),
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		if cfg.Security.AllowUnauthenticated {
			log.Warn().Msg("no API keys configured, allow_unauthenticated is true: all requests will be accepted")
		} else {
			log.Warn().Msg("no API keys configured and allow_unauthenticated is false: all judge requests will be rejected")
		}
	}

	// Judge API, wrapped with auth
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /debug", handlers.HandleDebug)
	apiMux.HandleFunc("POST /debug/{$}", handlers.HandleDebug)
	apiMux.HandleFunc("POST /testing", handlers.HandleTesting)
	apiMux.HandleFunc("POST /testing/{$}", handlers.HandleTesting)
	apiMux.HandleFunc("POST /testing/stream", handlers.HandleTestingStream)
	apiMux.HandleFunc("GET /runs", handlers.HandleListRuns)
	apiMux.HandleFunc("GET /runs/{id}", handlers.HandleGetRun)

	authedAPI := AuthMiddleware(cfg.Security.APIKeyHeader, cfg.Security.AllowedKeys, cfg.Security.AllowUnauthenticated)(apiMux)

	// Top-level mux: health/metrics bypass auth
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authedAPI)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(ctx, cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = CORSMiddleware(cfg.Security.AllowedOrigins)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	interpreterOK := s.interpreter == nil || s.interpreter.Healthy()
	dbOK := s.db == nil || s.db.Healthy(r.Context())

	resp := HealthResponse{
		Status:      "ok",
		Interpreter: interpreterOK,
		Database:    dbOK,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.interpreter != nil {
		resp.ActiveRuns = s.interpreter.ActiveCount()
	}

	if !interpreterOK || !dbOK {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
