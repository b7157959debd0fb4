package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortressi/stepsaga"
)

var errVolatileStore = errors.New("the memory dead letter backend does not outlive the process; configure file or redis")

func newDeadLettersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect compensations that need manual reconciliation",
	}
	cmd.AddCommand(newDeadLettersListCommand(a), newDeadLettersPurgeCommand(a))
	return cmd
}

// persistentStore opens the configured store, refusing the memory backend.
func (a *app) persistentStore() (stepsaga.DeadLetterStore, func(), error) {
	if a.cfg.DeadLetter.Backend == "memory" {
		return nil, nil, errVolatileStore
	}
	return a.deadLetterStore()
}

func newDeadLettersListCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, release, err := a.persistentStore()
			if err != nil {
				return err
			}
			defer release()

			letters, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if letters == nil {
					letters = []stepsaga.DeadLetter{}
				}
				return writeJSON(out, letters)
			}
			if len(letters) == 0 {
				fmt.Fprintln(out, "no dead letters")
				return nil
			}
			for _, letter := range letters {
				fmt.Fprintln(out, letter)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newDeadLettersPurgeCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "purge [ID...]",
		Short: "Delete reconciled dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass either dead letter IDs or --all")
			}
			store, release, err := a.persistentStore()
			if err != nil {
				return err
			}
			defer release()

			ids := make([]uuid.UUID, 0, len(args))
			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("invalid dead letter id %q: %w", arg, err)
				}
				ids = append(ids, id)
			}
			if all {
				letters, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, letter := range letters {
					ids = append(ids, letter.ID)
				}
			}

			for _, id := range ids {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to delete dead letter %s: %w", id, err)
				}
				a.logger.Info("dead letter purged", zap.Stringer("dead_letter", id))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d dead letter(s)\n", len(ids))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every dead letter")
	return cmd
}
