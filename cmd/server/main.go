package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ccexec/internal/config"
	"ccexec/internal/runtimeapp"
	"ccexec/pkg/logger"
)

const defaultConfigPath = "configs/server.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := runtimeapp.New(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "failed to build server", zap.Error(err))
		os.Exit(1)
	}

	logger.Info(ctx, "server starting",
		zap.String("listen", cfg.Server.ListenAddr), zap.String("admin_socket", cfg.Admin.SocketPath))

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info(ctx, "server stopped")
}
