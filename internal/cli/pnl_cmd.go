package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"spread-monitor/internal/models"
	"spread-monitor/internal/pnl"
)

func newPnLCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pnl <strategy-id>",
		Short: "Compute the current PnL of a strategy's orders",
		Long: `Fetch the option chain and the strategy's orders once and print the
PnL of every order that could be valued.

Exited orders use their matched exit fill. Open orders are marked to the
price their side could close at now. Orders without an entry, or whose
exit or live price is missing, are listed as skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			mon := app.newMonitor(ctx, app.Config.MonitorConfig(), nil)
			defer mon.Close()

			batch, summary, err := mon.PnLOnce(ctx, args[0])
			if err != nil {
				return err
			}

			orders := sortedResults(batch.Results)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"summary": summary,
					"orders":  orders,
					"skipped": batch.Skipped,
				})
			}
			printPnL(output, summary, orders, batch.Skipped)
			return nil
		},
	}
}

func sortedResults(results map[string]models.PnLResult) []models.PnLResult {
	out := make([]models.PnLResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func printPnL(output *Output, summary pnl.Summary, orders []models.PnLResult, skipped map[string]pnl.SkipReason) {
	output.Bold("Strategy %s", summary.StrategyID)
	output.Println()

	if len(orders) == 0 {
		output.Dim("No orders could be valued")
	} else {
		table := NewTable(output, "ORDER", "LEG", "SIDE", "QTY", "ENTRY", "EXIT/LTP", "PNL", "STATUS")
		for _, r := range orders {
			mark := FormatOptionalPrice(r.CurrentPrice)
			if r.IsExited {
				mark = FormatOptionalPrice(r.ExitPrice) + " x"
			}
			table.AddRow(
				r.OrderID,
				r.LegID,
				string(r.Side),
				fmt.Sprintf("%d", r.Quantity),
				FormatPrice(r.EntryPrice),
				mark,
				output.FormatPnL(r.PnL),
				output.Status(r.Status),
			)
		}
		table.Render()
	}

	if len(skipped) > 0 {
		output.Println()
		ids := make([]string, 0, len(skipped))
		for id := range skipped {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		output.Warning("Skipped %d orders:", len(ids))
		for _, id := range ids {
			output.Printf("  %s  %s\n", id, output.DimText(string(skipped[id])))
		}
	}

	output.Println()
	output.Printf("  Total:       %s\n", output.FormatPnL(summary.TotalPnL))
	output.Printf("  Realized:    %s\n", output.FormatPnL(summary.Realized))
	output.Printf("  Unrealized:  %s\n", output.FormatPnL(summary.Unrealized))
	output.Printf("  Orders:      %d (%d finished, %d pending)\n", summary.Orders, summary.Finished, summary.Pending)
}
