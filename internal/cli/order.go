package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/fortressi/stepsaga"
	"github.com/fortressi/stepsaga/order"
)

func newOrderCommand(a *app) *cobra.Command {
	var (
		req         order.Request
		amount      string
		showJournal bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Run one order through reserve, charge and ship",
		Example: `  stepsaga order --customer CUST-1 --product PROD-001 --quantity 2 --amount 49.90
  stepsaga order --customer CUST-1 --product PROD-003 --quantity 1 --amount 5 --journal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			req.Amount = parsed

			item, err := order.Submit(req)
			if err != nil {
				return err
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

			coordinator := stepsaga.NewCoordinator[order.Order](a.coordinatorOptions(store)...)
			report := coordinator.Execute(cmd.Context(), pipeline.Steps(), item)

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, report.Item); err != nil {
					return err
				}
			} else {
				printOrderReport(out, report)
			}
			if showJournal {
				fmt.Fprint(out, report.Journal.String())
			}
			return a.printMetrics(out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.CustomerID, "customer", "", "customer identifier")
	flags.StringVar(&req.ProductID, "product", "", "product identifier")
	flags.IntVar(&req.Quantity, "quantity", 1, "units to order")
	flags.StringVar(&amount, "amount", "", "amount to charge")
	flags.BoolVar(&showJournal, "journal", false, "print the saga journal")
	flags.BoolVar(&asJSON, "json", false, "print the work item as JSON")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func printOrderReport(w io.Writer, report *stepsaga.Report[order.Order]) {
	item := report.Item
	fmt.Fprintf(w, "order %s: %s\n", item.ID, item.Status())
	if reason := item.FailureReason(); reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", reason)
	}
	if item.Attributes.PaymentID != "" {
		fmt.Fprintf(w, "  payment: %s\n", item.Attributes.PaymentID)
	}
	if item.Attributes.TrackingID != "" {
		fmt.Fprintf(w, "  tracking: %s\n", item.Attributes.TrackingID)
	}
	if compensated := report.Journal.Compensated(); len(compensated) > 0 {
		fmt.Fprintf(w, "  compensated: %v\n", compensated)
	}
	for _, letter := range report.DeadLetters {
		fmt.Fprintf(w, "  dead letter: %s\n", letter)
	}
	if report.Partial() {
		fmt.Fprintf(w, "  partial compensation: %d step(s) need manual reconciliation\n", report.CompensationFaults)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
