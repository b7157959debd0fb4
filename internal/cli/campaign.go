package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fortressi/stepsaga/campaign"
)

func newCampaignCommand(a *app) *cobra.Command {
	var (
		id                          string
		budget, inventory, schedule bool
	)
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Run the budget, inventory and schedule checks for a campaign",
		Example: `  stepsaga campaign
  stepsaga campaign --schedule=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			campaignID := uuid.New()
			if id != "" {
				parsed, err := uuid.Parse(id)
				if err != nil {
					return fmt.Errorf("invalid campaign id %q: %w", id, err)
				}
				campaignID = parsed
			}

			orchestrator := campaign.New(campaign.Fixed(budget, inventory, schedule), nil, a.logger)
			status := orchestrator.Execute(cmd.Context(), campaignID)
			fmt.Fprintf(cmd.OutOrStdout(), "campaign %s: %s\n", campaignID, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "campaign id (random when empty)")
	cmd.Flags().BoolVar(&budget, "budget", true, "whether the budget check passes")
	cmd.Flags().BoolVar(&inventory, "inventory", true, "whether the inventory check passes")
	cmd.Flags().BoolVar(&schedule, "schedule", true, "whether the schedule check passes")
	return cmd
}
