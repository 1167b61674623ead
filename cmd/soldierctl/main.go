package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/missionctl/internal/logging"
	"github.com/danmuck/missionctl/internal/observability"
	"github.com/danmuck/missionctl/internal/soldier"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("soldierctl", pflag.ExitOnError)
	configPath := flags.String("config", "", "soldier TOML config (defaults only when empty)")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before config when present")
	_ = flags.Parse(os.Args[1:])

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "soldierctl: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureRuntime()
	logger := observability.InitLogger("soldierctl")
	observability.RegisterMetrics()

	cfg, err := loadServiceConfig(*configPath, os.Getenv)
	if err != nil {
		logger.Error().Err(err).Msg("soldierctl config invalid")
		os.Exit(1)
	}

	svc, err := soldier.NewServiceWithConfig(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("soldierctl setup failed")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("soldierctl exited")
		os.Exit(1)
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
