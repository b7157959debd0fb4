package order

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fortressi/stepsaga"
	"github.com/fortressi/stepsaga/ledger"
)

// Pipeline bundles the three order steps with the ledgers they share.
type Pipeline struct {
	Stock        *ledger.Stock[string]
	Reservations *ledger.Records[uuid.UUID, Reservation]
	Payments     *ledger.Records[uuid.UUID, Payment]
	Shipments    *ledger.Records[uuid.UUID, string]

	reserve *ReserveStep
	charge  *ChargeStep
	fulfill *FulfillStep
}

// NewPipeline creates the steps over fresh ledgers. A nil catalog uses
// DefaultCatalog; a zero limit uses DefaultChargeLimit.
func NewPipeline(catalog map[string]int, limit decimal.Decimal) *Pipeline {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	p := &Pipeline{
		Stock:        ledger.NewStock(catalog),
		Reservations: ledger.NewRecords[uuid.UUID, Reservation](),
		Payments:     ledger.NewRecords[uuid.UUID, Payment](),
		Shipments:    ledger.NewRecords[uuid.UUID, string](),
	}
	p.reserve = NewReserveStep(p.Stock, p.Reservations)
	p.charge = NewChargeStep(limit, p.Payments)
	p.fulfill = NewFulfillStep(p.Shipments)
	return p
}

// Steps returns Reserve, Charge, Fulfill in execution order.
func (p *Pipeline) Steps() []stepsaga.Step[Order] {
	return []stepsaga.Step[Order]{p.reserve, p.charge, p.fulfill}
}

// Register adds the three steps to registry.
func (p *Pipeline) Register(registry *stepsaga.StepRegistry[Order]) error {
	for _, step := range p.Steps() {
		if err := registry.Register(step); err != nil {
			return err
		}
	}
	return nil
}
