// Package campaign schedules an ad campaign with a LinearOrchestrator:
// validate the budget, reserve inventory, then schedule delivery. Any
// failed check releases whatever the campaign holds in one go.
package campaign

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fortressi/stepsaga"
	"github.com/fortressi/stepsaga/ledger"
)

const (
	StatusBudgetValidated   stepsaga.Status = "BUDGET_VALIDATED"
	StatusInventoryReserved stepsaga.Status = "INVENTORY_RESERVED"
	StatusScheduled         stepsaga.Status = "SCHEDULED"
)

// Checks are the preconditions of the three stages.
type Checks struct {
	Budget    stepsaga.Precondition
	Inventory stepsaga.Precondition
	Schedule  stepsaga.Precondition
}

// Fixed returns checks with constant outcomes.
func Fixed(budgetOK, inventoryOK, scheduleOK bool) Checks {
	return Checks{
		Budget:    constant(budgetOK),
		Inventory: constant(inventoryOK),
		Schedule:  constant(scheduleOK),
	}
}

func constant(ok bool) stepsaga.Precondition {
	return func(context.Context, uuid.UUID) bool { return ok }
}

// Holds records what a campaign has claimed so the compensation hook can
// release it.
type Holds struct {
	Budget    *ledger.Records[uuid.UUID, struct{}]
	Inventory *ledger.Records[uuid.UUID, struct{}]
}

// NewHolds creates empty ledgers.
func NewHolds() *Holds {
	return &Holds{
		Budget:    ledger.NewRecords[uuid.UUID, struct{}](),
		Inventory: ledger.NewRecords[uuid.UUID, struct{}](),
	}
}

// Orchestrator runs campaigns.
type Orchestrator struct {
	*stepsaga.LinearOrchestrator
	holds *Holds
}

// New creates a campaign orchestrator. A stage that passes its check takes a
// hold in holds; the compensation hook drops every hold for the campaign.
func New(checks Checks, holds *Holds, logger *zap.Logger) *Orchestrator {
	if holds == nil {
		holds = NewHolds()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hold := func(records *ledger.Records[uuid.UUID, struct{}], check stepsaga.Precondition) stepsaga.Precondition {
		return func(ctx context.Context, id uuid.UUID) bool {
			if check != nil && !check(ctx, id) {
				return false
			}
			if records != nil {
				records.Record(id, struct{}{})
			}
			return true
		}
	}

	stages := []stepsaga.Stage{
		{
			Name:    "budget",
			Reached: StatusBudgetValidated,
			Check:   hold(holds.Budget, checks.Budget),
			Message: "budget validated",
		},
		{
			Name:    "inventory",
			Reached: StatusInventoryReserved,
			Check:   hold(holds.Inventory, checks.Inventory),
			Message: "inventory reserved",
		},
		{
			Name:    "schedule",
			Reached: StatusScheduled,
			Check:   hold(nil, checks.Schedule),
			Message: "campaign scheduled",
		},
	}

	release := func(_ context.Context, id uuid.UUID) {
		_, budget := holds.Budget.Take(id)
		_, inventory := holds.Inventory.Take(id)
		logger.Debug("campaign holds released",
			zap.Stringer("campaign", id),
			zap.Bool("budget", budget),
			zap.Bool("inventory", inventory))
	}

	return &Orchestrator{
		LinearOrchestrator: stepsaga.NewLinearOrchestrator("campaign", stages, release, stepsaga.WithLogger(logger)),
		holds:              holds,
	}
}

// Holds returns the ledgers the orchestrator writes to.
func (o *Orchestrator) Holds() *Holds {
	return o.holds
}
