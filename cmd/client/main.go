package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/cravecart/cravecart/internal/buildinfo"
	"github.com/cravecart/cravecart/internal/client/cli"
	"github.com/cravecart/cravecart/internal/client/config"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	_ = godotenv.Load()

	ctx := context.Background()
	cfg, err := config.LoadConfig(ctx, os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)
}
