package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"radiocatalog/stationstore/internal/app"
	"radiocatalog/stationstore/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.FileEnv), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting station store",
		"http_port", cfg.HTTPPort,
		"blob_driver", cfg.Blob.Driver,
		"node_id", cfg.NodeID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("station store terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("station store stopped cleanly")
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
