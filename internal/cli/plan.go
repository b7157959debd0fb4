package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortressi/stepsaga"
)

func newPlanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the order saga as a Graphviz digraph",
		Long: `plan prints the order steps in DOT format. Solid edges are the forward
order; dashed edges show the order compensation runs in.`,
		Example: "  stepsaga plan | dot -Tsvg > order.svg",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pipeline, err := a.pipeline()
			if err != nil {
				return err
			}
			graph, err := stepsaga.DescribePlan("order", pipeline.Steps())
			if err != nil {
				return err
			}
			dot, err := graph.ExportToDot()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dot)
			return nil
		},
	}
}
