package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spread-monitor/internal/models"
	"spread-monitor/internal/spread"
)

func newSpreadCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "spread <strategy-id>",
		Short: "Compute the current spread of a strategy",
		Long: `Fetch the option chain once and print the forward and reverse spread
of a strategy, leg by leg.

Forward prices every leg on its own side; reverse inverts every side
before pricing. Legs without a price are listed as skipped and do not
contribute.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			mon := app.newMonitor(ctx, app.Config.MonitorConfig(), nil)
			defer mon.Close()

			spec, err := mon.FindStrategy(ctx, args[0])
			if err != nil {
				return err
			}
			snap, err := mon.SpreadOnce(ctx, spec)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}
			printSpread(output, spec, snap)
			return nil
		},
	}
}

func contributions(r spread.Result) map[string]spread.Contribution {
	out := make(map[string]spread.Contribution, len(r.Contributed))
	for _, c := range r.Contributed {
		out[c.LegID] = c
	}
	return out
}

func skips(r spread.Result) map[string]spread.SkipReason {
	out := make(map[string]spread.SkipReason, len(r.Skipped))
	for _, s := range r.Skipped {
		out[s.LegID] = s.Reason
	}
	return out
}

func legCell(output *Output, c spread.Contribution, ok bool, reason spread.SkipReason) string {
	if ok {
		return fmt.Sprintf("%s @ %s", c.Side, FormatPrice(c.Price))
	}
	if reason != "" {
		return output.Yellow(string(reason))
	}
	return output.DimText(NotAvailable)
}

func printSpread(output *Output, spec models.StrategySpec, snap spread.Snapshot) {
	title := spec.ID
	if spec.Name != "" {
		title = fmt.Sprintf("%s (%s)", spec.Name, spec.ID)
	}
	output.Bold("Strategy %s", title)
	output.Println()

	fwd, rev := contributions(snap.Forward), contributions(snap.Reverse)
	fwdSkip, revSkip := skips(snap.Forward), skips(snap.Reverse)

	table := NewTable(output, "LEG", "CONTRACT", "SIDE", "QTY", "FORWARD", "REVERSE", "SIGNED")
	for _, leg := range spec.Legs {
		f, fok := fwd[leg.ID]
		r, rok := rev[leg.ID]
		signed := output.DimText("-")
		if fok {
			signed = FormatPrice(f.Signed)
		}
		id := leg.ID
		if leg.ID == snap.BiddingLegID {
			id += " *"
		}
		table.AddRow(
			id,
			FormatContract(leg.Contract()),
			string(leg.Side),
			fmt.Sprintf("%d", leg.Quantity),
			legCell(output, f, fok, fwdSkip[leg.ID]),
			legCell(output, r, rok, revSkip[leg.ID]),
			signed,
		)
	}
	table.Render()
	output.Println()

	output.Printf("  Forward:     %s\n", output.FormatSpread(snap.Forward.Value()))
	output.Printf("  Reverse:     %s\n", output.FormatSpread(snap.Reverse.Value()))
	if snap.BiddingLegID != "" {
		output.Printf("  Bidding leg: %s @ %s\n", snap.BiddingLegID, FormatOptionalPrice(snap.BiddingLegPrice))
	}
	if n := len(snap.Forward.Skipped); n > 0 {
		output.Warning("  %d of %d legs skipped in forward", n, len(spec.Legs))
	}
	output.Dim("  Computed at %s", FormatDateTime(snap.ComputedAt))
}

