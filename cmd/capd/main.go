package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-capabilities/internal/api"
	"github.com/nidhogg/nuka-capabilities/internal/capability"
	"github.com/nidhogg/nuka-capabilities/internal/config"
	"github.com/nidhogg/nuka-capabilities/internal/events"
	"github.com/nidhogg/nuka-capabilities/internal/mcp"
	pgstore "github.com/nidhogg/nuka-capabilities/internal/store"
	"github.com/nidhogg/nuka-capabilities/internal/tools"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/capd.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("Starting capd...", zap.String("config", cfgPath), zap.String("version", version))

	ctx := context.Background()

	// Initialize PostgreSQL store
	pgStore, err := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	if err := pgStore.Migrate(ctx, cfg.MigrationsDir); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Capability events are optional
	var stream *events.Stream
	var publisher capability.Publisher
	if cfg.Database.Redis.URL != "" {
		s, rErr := events.NewStream(cfg.Database.Redis.URL, cfg.Events.Stream, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without capability events", zap.Error(rErr))
		} else {
			stream, publisher = s, s
			logger.Info("Capability events enabled", zap.String("stream", cfg.Events.Stream))
		}
	}

	svc := capability.NewService(pgStore, publisher, logger)
	reg := tools.NewRegistry()
	tools.RegisterCapabilityTools(reg, svc)

	shutdown := func() {
		if stream != nil {
			stream.Close()
		}
		pgStore.Close()
	}

	mcpServer := mcp.NewServer(reg, "capd", version, logger)
	if cfg.MCP.Transport == config.TransportStdio {
		logger.Info("Serving MCP on stdio")
		if err := mcpServer.ServeStdio(); err != nil {
			logger.Error("MCP stdio server stopped", zap.Error(err))
		}
		shutdown()
		return
	}

	handler := api.NewHandler(reg, pgStore, logger)
	if cfg.MCP.Transport == config.TransportHTTP {
		handler.SetMCP(mcpServer.HTTPHandler())
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("capd listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down capd...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	shutdown()
}

// newLogger builds a development logger at the configured level. Output goes
// to stderr, which keeps stdout free for the stdio MCP transport.
func newLogger(level string) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
