package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/cravecart/cravecart/internal/buildinfo"
	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/server"
	"github.com/cravecart/cravecart/internal/server/config"
	"github.com/cravecart/cravecart/internal/telemetry"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	// a missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	ctx := context.Background()
	cfg, err := config.LoadConfig(ctx, os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.NewJSON(os.Stdout, slog.LevelInfo)

	shutdown, err := telemetry.Init(ctx, "cravecart-server", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "startup failed", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "server stopped with error", "error", err)
		os.Exit(1)
	}
}
