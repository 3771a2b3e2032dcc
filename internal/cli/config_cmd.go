package cli

import (
	"github.com/spf13/cobra"

	"spread-monitor/internal/config"
	"spread-monitor/internal/logging"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the monitor configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			redacted := redactConfig(app.Config)
			if output.IsJSON() {
				return output.JSON(redacted)
			}
			showConfig(output, redacted)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := app.Config.Path
			if path == "" {
				path = config.TemplatePath(app.ConfigDir)
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redactConfig returns a copy with secrets masked.
func redactConfig(cfg *config.Config) *config.Config {
	c := *cfg
	c.Upstream.Token = logging.MaskCredential(c.Upstream.Token)
	c.Source.Kite.APIKey = logging.MaskCredential(c.Source.Kite.APIKey)
	c.Source.Kite.AccessToken = logging.MaskCredential(c.Source.Kite.AccessToken)
	return &c
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Upstream")
	output.Printf("  Base URL:        %s\n", cfg.Upstream.BaseURL)
	output.Printf("  Timeout:         %s\n", cfg.Upstream.Timeout)
	output.Printf("  Rate limit:      %.1f/s (burst %d)\n", cfg.Upstream.RatePerSec, cfg.Upstream.Burst)
	output.Printf("  Breaker:         trip at %.0f%% of %d, open %s\n",
		cfg.Upstream.Breaker.FailureRatio*100, cfg.Upstream.Breaker.MinRequests, cfg.Upstream.Breaker.Timeout)
	output.Printf("  Token:           %s\n", orNone(cfg.Upstream.Token))
	output.Println()

	output.Bold("Polling")
	output.Printf("  Quotes:          %s\n", cfg.Polling.QuoteInterval)
	output.Printf("  Orders:          %s\n", cfg.Polling.OrdersInterval)
	output.Printf("  Spreads:         %s\n", cfg.Polling.SpreadInterval)
	output.Printf("  Strategies:      %s\n", cfg.Polling.StrategiesInterval)
	output.Printf("  Exit fills:      %d concurrent\n", cfg.Polling.ExitFillConcurrency)
	if cfg.Backoff.Enabled {
		output.Printf("  Backoff:         x%.1f up to %s\n", cfg.Backoff.Factor, cfg.Backoff.MaxDelay)
	} else {
		output.Printf("  Backoff:         off\n")
	}
	output.Println()

	output.Bold("Pricing")
	output.Printf("  Method:          %s\n", cfg.Pricing.Method)
	output.Printf("  Average depth:   %d\n", cfg.Pricing.AverageDepth)
	output.Printf("  Depth index:     %d\n", cfg.Pricing.DepthIndex)
	output.Println()

	output.Bold("Source")
	output.Printf("  Kind:            %s\n", cfg.Source.Kind)
	if cfg.Source.Kind == config.SourceKite {
		output.Printf("  Exchange:        %s\n", cfg.Source.Kite.Exchange)
		output.Printf("  Underlyings:     %v\n", cfg.Source.Kite.Underlyings)
		output.Printf("  API key:         %s\n", orNone(cfg.Source.Kite.APIKey))
	}
	output.Println()

	output.Bold("History")
	output.Printf("  Enabled:         %v\n", cfg.History.Enabled)
	output.Printf("  Database:        %s\n", cfg.History.DBPath)
	output.Printf("  Interval:        %s\n", cfg.History.Interval)
	output.Printf("  Retention:       %s\n", FormatDuration(cfg.History.Retention))
	output.Println()

	output.Bold("API")
	output.Printf("  Enabled:         %v\n", cfg.API.Enabled)
	output.Printf("  Address:         %s\n", cfg.API.Addr)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Log.Level)
	if cfg.Log.File {
		output.Printf("  File:            %s\n", cfg.Log.FilePath)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
