package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dinder/session-server-go/internal/broker"
	"github.com/dinder/session-server-go/internal/config"
	"github.com/dinder/session-server-go/internal/database"
	"github.com/dinder/session-server-go/internal/gateway"
	"github.com/dinder/session-server-go/internal/handler"
	"github.com/dinder/session-server-go/internal/jobs"
	"github.com/dinder/session-server-go/internal/metrics"
	"github.com/dinder/session-server-go/internal/middleware"
	"github.com/dinder/session-server-go/internal/places"
	"github.com/dinder/session-server-go/internal/redis"
	"github.com/dinder/session-server-go/internal/repository"
	"github.com/dinder/session-server-go/internal/service"
	"github.com/dinder/session-server-go/internal/store"
	"github.com/dinder/session-server-go/internal/voting"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	var (
		persister store.Persister
		purger    jobs.ArchivePurger
		loader    store.Loader
		checks    = map[string]handler.Pinger{}
	)
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		cancel()
		log.Info().Msg("database connected")

		sessionRepo := repository.NewSessionRepository(db)
		persister, loader, purger = sessionRepo, sessionRepo, sessionRepo
		checks["database"] = db
	} else {
		log.Warn().Msg("DATABASE_URL not set, sessions are kept in memory only")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	searcher, err := places.FromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure places provider")
	}

	sessionStore := store.New(persister)
	if loader != nil {
		ctx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		restored, err := sessionStore.Restore(ctx, loader)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to restore sessions")
		}
		m.SetActiveSessions(restored)
		log.Info().Int("count", restored).Msg("sessions restored")
	}

	eventBroker := broker.New(redisClient, m)
	defer eventBroker.Close()

	coordinator := voting.NewCoordinator(sessionStore, eventBroker, m, cfg.MinQuorum)
	sessionService := service.NewSessionService(sessionStore, coordinator, eventBroker, searcher, m, service.SearchOptions{
		Timeout:             cfg.SearchTimeout(),
		DefaultRadiusMeters: cfg.DefaultRadiusMeters,
		MaxConcurrency:      cfg.PlacesMaxConcurrency,
	})
	defer sessionService.Close()

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	if redisClient != nil {
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	}
	createLimit := middleware.NewIPRateLimitMiddleware(limiter, cfg.CreateRateLimitPerMin, "session-create")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	health := handler.NewHealthHandler(sessionStore)
	for name, p := range checks {
		health.WithCheck(name, p)
	}

	sessionHandler := handler.NewSessionHandler(sessionService)
	eventsHandler := handler.NewEventsHandler(eventBroker, sessionService)
	ws := gateway.New(sessionService, eventBroker, m)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Handle("/ws", ws)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(bodyLimitMiddleware.Handler)
		r.Mount("/", sessionHandler.Routes(createLimit.Handler, eventsHandler))
	})

	cleanupJob := jobs.NewCleanupJob(sessionStore, eventBroker, purger, m, jobs.CleanupOptions{
		Interval:         config.CleanupJobInterval,
		CompletedGrace:   config.CompletedSessionGrace,
		IdleTTL:          cfg.SessionIdleTTL(),
		ArchiveRetention: config.ArchiveRetention,
	})
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
