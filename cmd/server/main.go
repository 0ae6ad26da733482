package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/koios/trmnl-server/internal/clock"
	"github.com/koios/trmnl-server/internal/config"
	"github.com/koios/trmnl-server/internal/display"
	"github.com/koios/trmnl-server/internal/handlers"
	"github.com/koios/trmnl-server/internal/provider"
	"github.com/koios/trmnl-server/internal/provider/weather"
	"github.com/koios/trmnl-server/internal/redis"
	"github.com/koios/trmnl-server/internal/token"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	pflag.StringVar(&cfg.Server.Listen, "listen", cfg.Server.Listen, "address to listen on")
	pflag.StringVar(&cfg.ConfigPath, "config-path", cfg.ConfigPath, "path of the YAML app config")
	pflag.Parse()

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Cancelled on SIGINT/SIGTERM; also ends live preview sessions
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := config.NewStore(cfg.ConfigPath)
	appCfg, err := store.Load()
	if err != nil {
		logger.Fatal("Failed to load app config",
			zap.String("path", cfg.ConfigPath),
			zap.Error(err))
	}

	renderers, err := display.NewHolder(func() (*display.Renderer, error) {
		current, err := store.Load()
		if err != nil {
			return nil, err
		}
		return display.NewRenderer(current.TemplatesPath, current.FontsPath)
	})
	if err != nil {
		logger.Fatal("Failed to load templates", zap.Error(err))
	}

	pool := display.NewWorkerPool(cfg.Render.Workers, logger)
	pool.Start()

	clk := clock.Real()
	window := time.Duration(cfg.Token.FailureWindow) * time.Second
	limit := int64(cfg.Token.MaxFailures)

	var attempts token.AttemptTracker
	var health handlers.HealthChecker
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.NewClient(cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		attempts = token.NewRedisAttemptTracker(redisClient, window, limit)
		health = redisClient
	} else {
		logger.Info("Redis not configured, tracking token failures in memory")
		attempts = token.NewMemoryAttemptTracker(clk, window, limit)
	}

	providers := provider.NewRegistry(
		weather.NewProvider(
			weather.NewClient(weather.WithTimeout(time.Duration(cfg.Provider.WeatherTimeout)*time.Second)),
			clk, logger),
	)
	assembler := provider.NewAssembler(providers, logger)

	service := handlers.NewDisplayService(store, renderers, pool, assembler, attempts, clk, logger)
	handler := handlers.NewHandler(service, store, renderers, logger)
	if health != nil {
		handler.WithHealthCheck(health)
	}
	router := handlers.NewRouter(handler)

	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", zap.String("listen", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("Server started",
		zap.String("listen", cfg.Server.Listen),
		zap.String("base_url", appCfg.BaseURL),
		zap.String("templates_path", appCfg.TemplatesPath),
		zap.Int("templates", len(renderers.Current().Templates())),
		zap.Int("devices", appCfg.Registry().Len()),
		zap.Strings("providers", providers.Names()))

	<-ctx.Done()

	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Stop the render worker pool
	pool.Stop()

	logger.Info("Server shutdown complete")
}
