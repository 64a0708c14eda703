package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	allocationapp "energy-allocation/internal/allocation/application"
	allocationrepo "energy-allocation/internal/allocation/infrastructure/postgres"
	allocationhttp "energy-allocation/internal/allocation/interfaces/http"
	"energy-allocation/internal/audit"
	"energy-allocation/internal/auth"
	"energy-allocation/internal/config"
	"energy-allocation/internal/observability/metrics"
	"energy-allocation/internal/reporting"
	siterepo "energy-allocation/internal/sites/infrastructure/postgres"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	logger = newLogger(cfg)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open failed")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("db ping failed")
	}

	metrics.Init(db, logger)

	repos := allocationapp.Repositories{
		Units:         allocationrepo.NewUnitRepository(db),
		Shareholdings: allocationrepo.NewShareholdingRepository(db),
		Banking:       allocationrepo.NewBankingRepository(db),
		Allocations:   allocationrepo.NewAllocationRepository(db),
		Overrides:     allocationrepo.NewOverrideRepository(db),
		Sites:         siterepo.NewSiteRepository(db),
	}
	opts := []allocationapp.Option{
		allocationapp.WithLogger(logger),
		allocationapp.WithAuditLogger(audit.NewRepository(db)),
	}
	if cfg.File.OACharges != "" {
		table, err := reporting.LoadOAChargeTable(cfg.File.OACharges)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.File.OACharges).Msg("oa charge table load failed")
		}
		opts = append(opts, allocationapp.WithOAChargeTable(table))
	}
	service, err := allocationapp.NewService(repos, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("allocation service init failed")
	}

	scheduler := allocationapp.NewScheduler(logger)
	if cfg.File.Schedule.Enabled() {
		job, err := allocationapp.NewMonthlyCalculationJob(service, cfg.File.Schedule.Companies, nil, cfg.File.Schedule.Timeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("monthly job init failed")
		}
		if err := scheduler.AddJob(cfg.File.Schedule.Cron, job); err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.File.Schedule.Cron).Msg("monthly job schedule invalid")
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler, err := allocationhttp.NewHandler(service, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("allocation handler init failed")
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      newRouter(cfg, handler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	logger.Info().Msg("stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.DevMode {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newRouter(cfg *config.Config, handler *allocationhttp.Handler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if !cfg.AuthDisabled {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
		r.Use(auth.NewMiddleware([]byte(cfg.JWTSecret), policy).Wrap)
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api/v1", handler.Routes)
	return r
}

func loggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
