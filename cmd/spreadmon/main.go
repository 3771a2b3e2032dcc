package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"spread-monitor/internal/cli"
	"spread-monitor/internal/config"
	"spread-monitor/internal/logging"
)

func main() {
	// A local .env may carry KITE_* and SPREADMON_* overrides.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("SPREADMON_CONFIG_DIR"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLoggerWithConfig(cfg.Log)

	if err := cli.NewRootCmd(cfg, logger).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
