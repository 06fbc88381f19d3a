// Command gatewayd runs the TaskMesh edge gateway: it authenticates callers,
// enforces rate limits, shields unhealthy upstreams behind circuit breakers,
// caches idempotent reads, and proxies the survivors to the platform's
// internal services.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/taskmesh/gateway/internal/config"
	"github.com/taskmesh/gateway/internal/gateway"
)

func main() {
	configPath := flag.String("config", "", "path to the gateway config file (YAML); searched in . and ./config when empty")
	flag.Parse()

	// Config problems are fatal before the listener opens. A gateway
	// running on a half-understood config is worse than one that refuses
	// to start.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatewayd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	gin.SetMode(gin.ReleaseMode)

	srv, err := gateway.NewServer(cfg, logger)
	if err != nil {
		logger.Error("gateway construction failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

// newLogger builds the process logger from config. JSON output is the
// default; text is for local runs.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
