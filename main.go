package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/heartside/heartside/pkg/config"
	"github.com/heartside/heartside/pkg/utils"
)

func main() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to ensure default config", "error", err)
	}

	cfg, configFile, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("Config loaded", "file", configFile)

	secrets, err := config.LoadSecrets()
	if err != nil {
		logger.Error("Failed to load secrets", "error", err)
		os.Exit(1)
	}

	server, err := NewServer(cfg, secrets)
	if err != nil {
		logger.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
}
