package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortressi/stepsaga"
	"github.com/fortressi/stepsaga/order"
)

func newBatchCommand(a *app) *cobra.Command {
	var (
		parallelism int
		sagaTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run a JSON array of order requests concurrently",
		Long: `batch reads a JSON array of order requests from FILE ("-" for stdin) and
runs every valid request as its own saga against one shared inventory.
Invalid requests are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requests, err := readRequests(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			items := make([]*stepsaga.WorkItem[order.Order], 0, len(requests))
			for i, req := range requests {
				item, err := order.Submit(req)
				if err != nil {
					fmt.Fprintf(out, "request %d rejected: %v\n", i+1, err)
					continue
				}
				items = append(items, item)
			}

			pipeline, err := a.pipeline()
			if err != nil {
				return err
			}
			store, release, err := a.deadLetterStore()
			if err != nil {
				return err
			}
			defer release()

			if !cmd.Flags().Changed("parallelism") {
				parallelism = a.cfg.Parallelism
			}
			coordinator := stepsaga.NewCoordinator[order.Order](a.coordinatorOptions(store)...)
			reports := stepsaga.NewDispatcher(coordinator, parallelism).
				WithSagaTimeout(sagaTimeout).
				Dispatch(cmd.Context(), pipeline.Steps(), items)

			counts := make(map[stepsaga.Status]int)
			for _, report := range reports {
				item := report.Item
				counts[item.Status()]++
				fmt.Fprintf(out, "%s %s %s", item.ID, item.Attributes.CustomerID, item.Status())
				if reason := item.FailureReason(); reason != "" {
					fmt.Fprintf(out, " (%s)", reason)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "completed=%d compensated=%d failed=%d\n",
				counts[stepsaga.StatusCompleted],
				counts[stepsaga.StatusCompensationCompleted],
				counts[stepsaga.StatusFailed])

			a.logger.Debug("batch finished", zap.Int("requests", len(requests)), zap.Int("dispatched", len(items)))
			return a.printMetrics(out)
		},
	}
	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "sagas run at once (default from config)")
	cmd.Flags().DurationVar(&sagaTimeout, "saga-timeout", 0, "deadline for each saga's forward phase")
	return cmd
}

func readRequests(stdin io.Reader, path string) ([]order.Request, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open requests: %w", err)
		}
		defer f.Close()
		r = f
	}

	var requests []order.Request
	if err := json.NewDecoder(r).Decode(&requests); err != nil {
		return nil, fmt.Errorf("failed to decode requests: %w", err)
	}
	return requests, nil
}
