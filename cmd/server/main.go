package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/ai-gateway-go/internal/config"
	"github.com/openclaw/ai-gateway-go/internal/database"
	"github.com/openclaw/ai-gateway-go/internal/handler"
	"github.com/openclaw/ai-gateway-go/internal/jobs"
	"github.com/openclaw/ai-gateway-go/internal/metrics"
	"github.com/openclaw/ai-gateway-go/internal/middleware"
	"github.com/openclaw/ai-gateway-go/internal/ratelimit"
	"github.com/openclaw/ai-gateway-go/internal/redis"
	"github.com/openclaw/ai-gateway-go/internal/repository"
	"github.com/openclaw/ai-gateway-go/internal/retry"
	"github.com/openclaw/ai-gateway-go/internal/sanitize"
	"github.com/openclaw/ai-gateway-go/internal/service"
	"github.com/openclaw/ai-gateway-go/internal/session"
	"github.com/openclaw/ai-gateway-go/internal/upstream"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	m := metrics.New()

	tierRepo := repository.NewTierRepository(db.DB)
	mirror := repository.NewRedisMirror(redisClient)

	sessions := session.NewStore(mirror, cfg.SessionTTL(), m)
	defer sessions.Close()
	if err := sessions.Load(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to load session mirror")
	}

	limiter := ratelimit.NewLimiter()
	gateway := retry.New(retry.DefaultConfig())
	provider := upstream.NewHTTPProvider(cfg.UpstreamURL, cfg.UpstreamAPIKey, config.UpstreamTimeout)
	sanitizer := sanitize.NewRuleSanitizer(cfg.MaxMessageLength)

	chatService := service.NewChatService(
		sanitizer, limiter, tierRepo, sessions, gateway, provider, cfg.UpstreamModel, m,
	)

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	adminAuthMiddleware := middleware.NewAdminAuthMiddleware(cfg.AdminToken)

	chatHandler := handler.NewChatHandler(chatService)
	sessionHandler := handler.NewSessionHandler(sessions)
	adminHandler := handler.NewAdminHandler(limiter, chatService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Handle("/metrics", m.Handler())

	r.Route("/v1/chat", func(r chi.Router) {
		r.Mount("/", chatHandler.Routes())
	})

	r.Route("/session", func(r chi.Router) {
		r.Mount("/", sessionHandler.Routes())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuthMiddleware.Handler)
		r.Mount("/", adminHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(sessions, limiter, config.CleanupJobInterval)
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
