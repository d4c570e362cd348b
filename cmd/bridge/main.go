// Package main is the entry point for the widget bridge harness daemon.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/backend"
	"github.com/favloyalty/widgetbridge/internal/config"
	"github.com/favloyalty/widgetbridge/internal/harness"
	"github.com/favloyalty/widgetbridge/internal/loader"
	"github.com/favloyalty/widgetbridge/internal/observability"
	"github.com/favloyalty/widgetbridge/internal/session"
	"github.com/favloyalty/widgetbridge/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "widget-bridge", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Build the session store.
	sessions, sessionCloser, err := buildSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Build the backend client.
	api := backend.NewClient(cfg.Widget.APIURL, logger,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		backend.WithBreaker(backend.NewBreaker(
			cfg.Backend.Breaker.FailureThreshold,
			cfg.Backend.Breaker.SuccessThreshold,
			cfg.Backend.Breaker.OpenTimeout,
		)),
		backend.WithMetrics(metrics),
	)

	// Step 6: Build the harness runtime. Storefront collaborators are
	// origin-scoped and constructed per page inside the runtime.
	runtime := harness.NewRuntime(harness.Options{
		Defaults: loader.Defaults{
			WidgetURL: cfg.Widget.WidgetURL,
			APIURL:    cfg.Widget.APIURL,
			Position:  model.NormalizePlacement(cfg.Widget.Position),
		},
		Settings:         api,
		BackendAPI:       api,
		Tokens:           api,
		Sessions:         sessions,
		SessionTTL:       cfg.Session.TTL,
		SignOutInterval:  cfg.Protocol.SignOutCheckInterval,
		RoundTripTimeout: cfg.Protocol.RoundTripTimeout,
		Logger:           logger,
		Metrics:          metrics,
	})

	// Step 7: Build the HTTP server.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Harness.Port),
		Handler:      harness.NewServer(runtime, logger),
		ReadTimeout:  cfg.Harness.ReadTimeout,
		WriteTimeout: cfg.Harness.WriteTimeout,
	}

	// Step 8: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Harness.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("sessionDriver", cfg.Session.Driver))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Harness.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Tear down the running simulation and close stores.
	runtime.Stop()
	if sessionCloser != nil {
		sessionCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSessionStore creates the configured session store. The Redis address
// is read from the environment variable named by session.addr_env so the
// address never lives in the config file.
func buildSessionStore(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case "redis":
		addrEnv := cfg.AddrEnv
		if addrEnv == "" {
			addrEnv = "REDIS_ADDR"
		}
		addr := os.Getenv(addrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session driver is redis but %s is not set", addrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("session store ready", zap.String("driver", "redis"), zap.String("addr", addr))
		return session.NewRedisStore(client), func() { _ = client.Close() }, nil
	default:
		logger.Info("session store ready", zap.String("driver", "memory"))
		return session.NewMemoryStore(), nil, nil
	}
}
