package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStrategiesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "strategies",
		Aliases: []string{"ls"},
		Short:   "List strategies known to the trading backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			specs, err := app.newBackend().FetchStrategies(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })

			if output.IsJSON() {
				return output.JSON(specs)
			}
			if len(specs) == 0 {
				output.Dim("No strategies")
				return nil
			}

			table := NewTable(output, "ID", "NAME", "LEGS", "BIDDING LEG")
			for _, s := range specs {
				bidding := output.DimText("-")
				if leg, ok := s.BiddingLeg(); ok {
					bidding = fmt.Sprintf("%s (%s)", leg.ID, FormatContract(leg.Contract()))
				}
				table.AddRow(s.ID, TruncateString(s.Name, 32), fmt.Sprintf("%d", len(s.Legs)), bidding)
			}
			table.Render()
			return nil
		},
	}
}
