// Package main provides the entry point for the BeatGate API gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bgruszka/beatgate/internal/config"
	"github.com/bgruszka/beatgate/internal/forward"
	"github.com/bgruszka/beatgate/internal/generator"
	"github.com/bgruszka/beatgate/internal/handler"
	"github.com/bgruszka/beatgate/internal/notify"
	"github.com/bgruszka/beatgate/internal/ratelimit"
	"github.com/bgruszka/beatgate/internal/route"
	"github.com/bgruszka/beatgate/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	setupLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	applyLogConfig(cfg)

	log.Info().
		Int("port", cfg.GatewayPort).
		Str("user_file_service", cfg.UserFileServiceURL).
		Str("notification_service", cfg.NotificationServiceURL).
		Str("rate_limit_store", cfg.RateLimitStore).
		Msg("Starting BeatGate gateway")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, closeStore, err := initStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise rate limit store")
	}
	defer closeStore()

	limiter, err := ratelimit.NewLimiter(store, cfg.RateLimitRequests, cfg.RateLimitWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create rate limiter")
	}

	routes, err := route.New(cfg.Routes)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build route table")
	}

	gen, err := generator.New(cfg.RequestIDGenerator)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create request ID generator")
	}

	client := forward.NewClient(cfg.RequestIDHeader, cfg.BackendDialTimeout)
	forwarder := forward.New(client, cfg.RequestTimeout, cfg.ForwardHeaders)
	notifier := notify.New(client, cfg.RequestTimeout, cfg.NotifyRPS, cfg.NotifyBurst)

	gateway := handler.NewGateway(routes, limiter, forwarder, notifier, handler.Options{
		TrustForwardedFor: cfg.TrustForwardedFor,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	})
	srv := server.NewServer(cfg, gateway, gen)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()
	go func() {
		if err := srv.StartMetrics(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Metrics server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := notifier.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Abandoned in-flight notifications")
	}

	log.Info().Msg("Server exited gracefully")
}

// initStore builds the configured rate limit store and returns its release func.
func initStore(ctx context.Context, cfg *config.GatewayConfig) (ratelimit.Store, func(), error) {
	switch cfg.RateLimitStore {
	case config.StoreRedis:
		store, err := ratelimit.NewRedisStore(ctx, ratelimit.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close redis store")
			}
		}, nil
	default:
		store := ratelimit.NewMemoryStore(cfg.RateLimitEvictAfter)
		store.StartCleanup(ctx)
		return store, store.Stop, nil
	}
}

// setupLogger configures zerolog based on LOG_LEVEL and LOG_FORMAT environment variables.
// It runs before configuration is loaded so load errors are formatted consistently.
func setupLogger() {
	configureLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// applyLogConfig re-applies logging settings that may have come from a .env file.
func applyLogConfig(cfg *config.GatewayConfig) {
	configureLogger(cfg.LogLevel, cfg.LogFormat)
}

func configureLogger(logLevel, format string) {
	if logLevel == "" {
		logLevel = "info"
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}
