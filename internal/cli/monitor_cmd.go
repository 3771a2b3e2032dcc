package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"spread-monitor/internal/api"
	"spread-monitor/internal/monitor"
	"spread-monitor/internal/store"
)

func newMonitorCmd(app *App) *cobra.Command {
	var (
		strategyIDs []string
		refresh     time.Duration
		noAPI       bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Continuously monitor spreads and PnL",
		Long: `Poll the option chain and the trading backend until interrupted.

Without --strategy every strategy the backend lists is watched, and the
list is re-read every polling.strategies_interval. With --strategy only
the named strategies are watched.`,
		Example: `  spreadmon monitor
  spreadmon monitor --strategy fly-24000 --refresh 2s
  spreadmon monitor --json --refresh 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				history   monitor.History
				histStore store.HistoryStore
			)
			if app.Config.History.Enabled {
				hs, err := app.openHistory(ctx)
				if err != nil {
					return fmt.Errorf("opening history: %w", err)
				}
				defer hs.Close()
				history, histStore = hs, hs
			}

			mcfg := app.Config.MonitorConfig()
			if len(strategyIDs) > 0 {
				mcfg.StrategiesInterval = 0
			}
			mon := app.newMonitor(ctx, mcfg, history)
			defer mon.Close()

			if err := mon.Start(); err != nil {
				return err
			}
			for _, id := range strategyIDs {
				spec, err := mon.FindStrategy(ctx, id)
				if err != nil {
					return err
				}
				if err := mon.Watch(spec); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			if app.Config.API.Enabled && !noAPI {
				server := api.NewServer(app.Config.API.Addr, api.NewResultsController(mon, histStore), app.Logger)
				g.Go(func() error { return server.Run(gctx) })
			}
			if refresh > 0 {
				g.Go(func() error {
					ticker := time.NewTicker(refresh)
					defer ticker.Stop()
					for {
						select {
						case <-gctx.Done():
							return nil
						case <-ticker.C:
							if err := renderDashboard(output, mon); err != nil {
								return err
							}
						}
					}
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				return nil
			})

			if err := g.Wait(); err != nil && ctx.Err() == nil {
				return err
			}
			if !output.IsJSON() {
				output.Dim("Stopped (run %s)", mon.RunID())
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&strategyIDs, "strategy", "s", nil, "watch only these strategy ids")
	cmd.Flags().DurationVar(&refresh, "refresh", 5*time.Second, "dashboard redraw period (0 disables)")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not serve the results API even when enabled")

	return cmd
}

// dashboardRow is one strategy line of the live view.
type dashboardRow struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Forward  *float64 `json:"forward"`
	Reverse  *float64 `json:"reverse"`
	Bidding  *float64 `json:"biddingLegPrice"`
	PnL      *float64 `json:"pnl"`
	Orders   int      `json:"orders"`
	Pending  int      `json:"pending"`
	Computed string   `json:"computedAt,omitempty"`
}

func dashboardRows(mon *monitor.Monitor) []dashboardRow {
	results := mon.Results()
	specs := mon.Strategies()
	rows := make([]dashboardRow, 0, len(specs))
	for _, spec := range specs {
		row := dashboardRow{ID: spec.ID, Name: spec.Name}
		if snap, ok := results.Spread(spec.ID); ok {
			if v, ok := snap.Forward.Value(); ok {
				row.Forward = &v
			}
			if v, ok := snap.Reverse.Value(); ok {
				row.Reverse = &v
			}
			row.Bidding = snap.BiddingLegPrice
			row.Computed = FormatTime(snap.ComputedAt)
		}
		if sum, ok := results.Summary(spec.ID); ok {
			total := sum.TotalPnL
			row.PnL = &total
			row.Orders = sum.Orders
			row.Pending = sum.Pending
		}
		rows = append(rows, row)
	}
	return rows
}

func renderDashboard(output *Output, mon *monitor.Monitor) error {
	rows := dashboardRows(mon)
	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"time":       time.Now(),
			"strategies": rows,
		})
	}

	status := mon.Cache().Status()
	output.Println()
	if status.Ready {
		output.Info("Chain: %d quotes @ %s", status.Quotes, FormatTime(status.FetchedAt))
	} else {
		output.Warning("Chain: waiting for first snapshot")
	}
	if status.LastError != "" && status.Failures > 0 {
		output.Warning("Last chain error (%d consecutive): %s", status.Failures, TruncateString(status.LastError, 80))
	}

	if len(rows) == 0 {
		output.Dim("No strategies watched")
		return nil
	}

	table := NewTable(output, "STRATEGY", "NAME", "FORWARD", "REVERSE", "BID LEG", "PNL", "ORDERS", "AT")
	for _, r := range rows {
		pnl := output.DimText(NotAvailable)
		if r.PnL != nil {
			pnl = output.FormatPnL(*r.PnL)
		}
		orders := output.DimText("-")
		if r.Orders > 0 {
			orders = fmt.Sprintf("%d (%d open)", r.Orders, r.Pending)
		}
		table.AddRow(
			r.ID,
			TruncateString(r.Name, 24),
			FormatOptionalPrice(r.Forward),
			FormatOptionalPrice(r.Reverse),
			FormatOptionalPrice(r.Bidding),
			pnl,
			orders,
			r.Computed,
		)
	}
	table.Render()
	return nil
}
