package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spread-monitor/internal/store"
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded spread and PnL snapshots",
		Long: `Query the SQLite snapshot history written by 'spreadmon monitor' when
history.enabled is set.`,
	}

	cmd.AddCommand(newHistoryRunsCmd(app))
	cmd.AddCommand(newHistorySpreadCmd(app))
	cmd.AddCommand(newHistoryPnLCmd(app))
	cmd.AddCommand(newHistoryPruneCmd(app))

	return cmd
}

type historyFlags struct {
	run   string
	since time.Duration
	limit int
}

func (f *historyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.run, "run", "", "only snapshots of this run id")
	cmd.Flags().DurationVar(&f.since, "since", 0, "only snapshots newer than this (e.g. 2h)")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 20, "maximum rows")
}

func (f *historyFlags) filter(strategyID string) store.HistoryFilter {
	filter := store.HistoryFilter{StrategyID: strategyID, RunID: f.run, Limit: f.limit}
	if f.since > 0 {
		filter.StartDate = time.Now().Add(-f.since)
	}
	return filter
}

func (a *App) withHistory(fn func(hs store.HistoryStore) error) error {
	hs, err := store.NewSQLiteStore(a.Config.History.DBPath)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer hs.Close()
	return fn(hs)
}

func newHistoryRunsCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List monitor runs found in the history",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withHistory(func(hs store.HistoryStore) error {
				runs, err := hs.GetRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(runs)
				}
				if len(runs) == 0 {
					output.Dim("No recorded runs")
					return nil
				}
				table := NewTable(output, "RUN", "FIRST", "LAST", "DURATION", "SNAPSHOTS", "STRATEGIES")
				for _, r := range runs {
					table.AddRow(
						r.RunID,
						FormatDateTime(r.FirstSeen),
						FormatDateTime(r.LastSeen),
						FormatDuration(r.LastSeen.Sub(r.FirstSeen)),
						fmt.Sprintf("%d", r.Snapshots),
						fmt.Sprintf("%d", r.Strategies),
					)
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs")
	return cmd
}

func newHistorySpreadCmd(app *App) *cobra.Command {
	flags := &historyFlags{}
	cmd := &cobra.Command{
		Use:   "spread <strategy-id>",
		Short: "Show recorded spread snapshots of a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withHistory(func(hs store.HistoryStore) error {
				records, err := hs.GetSpreadHistory(cmd.Context(), flags.filter(args[0]))
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(records)
				}
				if len(records) == 0 {
					output.Dim("No spread snapshots for %s", args[0])
					return nil
				}
				table := NewTable(output, "TIME", "FORWARD", "REVERSE", "BID LEG", "SKIPPED", "RUN")
				for _, r := range records {
					table.AddRow(
						FormatDateTime(r.ComputedAt),
						output.FormatSpread(r.Forward, r.ForwardValid),
						output.FormatSpread(r.Reverse, r.ReverseValid),
						FormatOptionalPrice(r.BiddingLegPrice),
						fmt.Sprintf("%d", len(r.Skipped)),
						TruncateString(r.RunID, 8),
					)
				}
				table.Render()
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newHistoryPnLCmd(app *App) *cobra.Command {
	flags := &historyFlags{}
	cmd := &cobra.Command{
		Use:   "pnl <strategy-id>",
		Short: "Show recorded PnL snapshots of a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withHistory(func(hs store.HistoryStore) error {
				records, err := hs.GetPnLHistory(cmd.Context(), flags.filter(args[0]))
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(records)
				}
				if len(records) == 0 {
					output.Dim("No PnL snapshots for %s", args[0])
					return nil
				}
				table := NewTable(output, "TIME", "TOTAL", "REALIZED", "UNREALIZED", "ORDERS", "RUN")
				for _, r := range records {
					table.AddRow(
						FormatDateTime(r.RecordedAt),
						output.FormatPnL(r.Summary.TotalPnL),
						output.FormatPnL(r.Summary.Realized),
						output.FormatPnL(r.Summary.Unrealized),
						fmt.Sprintf("%d (%d open)", r.Summary.Orders, r.Summary.Pending),
						TruncateString(r.RunID, 8),
					)
				}
				table.Render()
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newHistoryPruneCmd(app *App) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than a duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if olderThan <= 0 {
				olderThan = app.Config.History.Retention
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return app.withHistory(func(hs store.HistoryStore) error {
				removed, err := hs.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]int64{"removed": removed})
				}
				output.Success("✓ Removed %d snapshots older than %s", removed, FormatDuration(olderThan))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (default: history.retention)")
	return cmd
}
