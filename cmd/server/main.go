package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"orionserver/internal/app"
	"orionserver/internal/config"
	"orionserver/internal/logger"
)

func main() {
	port := pflag.IntP("port", "p", 0, "HTTP port (overrides PORT)")
	configFile := pflag.StringP("config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the environment")
	pflag.Parse()

	cfg, err := config.Load(*envFile, *configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	}

	appLogger, err := logger.NewLogger(cfg.LogDirectory)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to start server: %v", err)
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		appLogger.Error("Server stopped with error: %v", err)
		os.Exit(1)
	}
	appLogger.Info("Server stopped")
}
