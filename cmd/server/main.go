package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/server"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "TOML config file")
	port := flag.String("port", "", "Server port (overrides PORT)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Server error", zap.Error(runErr))
	}
	if err := srv.Close(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if runErr != nil {
		os.Exit(1)
	}
}
