package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"spread-monitor/internal/config"
	"spread-monitor/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-12-26"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	ConfigDir string
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "spreadmon",
		Short: "Live spread and PnL monitor for multi-leg option strategies",
		Long: `spreadmon polls an option chain and a trading backend and keeps the
forward and reverse spread of every strategy and the PnL of its orders
up to date.

Use 'spreadmon monitor' to run continuously, or 'spreadmon spread <id>'
and 'spreadmon pnl <id>' for a one-shot view.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" && dir != app.ConfigDir {
				reloaded, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = reloaded
				app.ConfigDir = dir
				app.Logger = logging.NewLoggerWithConfig(reloaded.Log)
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}

			if app.Config.TemplateCreated {
				app.Logger.Info().Str("path", app.Config.Path).Msg("No config found, wrote template and using defaults")
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/spread-monitor)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newMonitorCmd(app))
	rootCmd.AddCommand(newSpreadCmd(app))
	rootCmd.AddCommand(newPnLCmd(app))
	rootCmd.AddCommand(newStrategiesCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("spreadmon v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}
