package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"prologd-judge/internal/api"
	"prologd-judge/internal/config"
	"prologd-judge/internal/grading"
	"prologd-judge/internal/judge"
	"prologd-judge/internal/monitor"
	"prologd-judge/internal/sandbox"
	"prologd-judge/internal/storage"
)

func main() {
	// Optional .env for local development; real env vars win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	level, _ := zerolog.ParseLevel(cfg.Log.Level)
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetry, err := monitor.InitTelemetry(ctx, cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("tracing unavailable, continuing without export")
	}

	metrics := monitor.NewMetrics()

	runner, err := sandbox.NewRunnerFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create sandbox runner")
	}
	metrics.TrackActiveRuns(runner.ActiveCount)
	if path, err := runner.Interpreter(); err != nil {
		// Keep serving so health/metrics endpoints work for debugging.
		log.Warn().Err(err).Msg("interpreter not found, runs will fail")
	} else {
		log.Info().Str("interpreter", path).Msg("interpreter resolved")
	}

	svc := judge.NewService(runner, grading.NewEvaluator(cfg.Grading.MaxRoutineBytes), metrics)

	// Initialize database (optional, runs without it for development)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		if cfg.Database.Migrate {
			if err := storage.Migrate(cfg.Database.DSN); err != nil {
				log.Fatal().Err(err).Msg("database migration failed")
			}
		}
		db, err = storage.New(ctx, cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
		}
	}

	// Initialize audit writer (buffered, reliable logging)
	var auditWriter *storage.AuditWriter
	if db != nil {
		auditWriter = storage.NewAuditWriter(db, cfg.Database.AuditBuffer, metrics.AuditDropped.Inc)
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
	}

	server := api.NewServer(ctx, cfg, svc, runner, db, auditWriter, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// Let in-flight interpreter runs finish or hit their own timeout.
		if err := runner.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("runner close error")
		}

		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("telemetry shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("interpreter", cfg.Sandbox.Interpreter).
		Dur("timeout", runner.Timeout()).
		Bool("db_enabled", db != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	<-ctx.Done()
	log.Info().Msg("server stopped")
}
