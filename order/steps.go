package order

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fortressi/stepsaga"
	"github.com/fortressi/stepsaga/ledger"
)

const (
	InventoryStep stepsaga.StepName = "InventoryService"
	PaymentStep   stepsaga.StepName = "PaymentService"
	ShippingStep  stepsaga.StepName = "ShippingService"
)

const (
	StatusInventoryReserved stepsaga.Status = "INVENTORY_RESERVED"
	StatusPaymentCompleted  stepsaga.Status = "PAYMENT_COMPLETED"
	StatusShippingScheduled stepsaga.Status = "SHIPPING_SCHEDULED"
)

// DefaultChargeLimit is the largest amount ChargeStep accepts.
var DefaultChargeLimit = decimal.NewFromInt(10000)

// DefaultCatalog returns the initial stock levels used by the demo.
func DefaultCatalog() map[string]int {
	return map[string]int{
		"PROD-001": 100,
		"PROD-002": 25,
		"PROD-003": 0,
		"PROD-004": 5,
	}
}

// Reservation is the inventory held for one order.
type Reservation struct {
	ProductID string
	Quantity  int
}

// Payment is a charge made for one order.
type Payment struct {
	ID     string
	Amount decimal.Decimal
}

// ReserveStep takes the ordered quantity out of stock.
type ReserveStep struct {
	stock        *ledger.Stock[string]
	reservations *ledger.Records[uuid.UUID, Reservation]
}

// NewReserveStep creates a ReserveStep over the given ledgers.
func NewReserveStep(stock *ledger.Stock[string], reservations *ledger.Records[uuid.UUID, Reservation]) *ReserveStep {
	return &ReserveStep{stock: stock, reservations: reservations}
}

func (s *ReserveStep) Name() stepsaga.StepName          { return InventoryStep }
func (s *ReserveStep) CompletedStatus() stepsaga.Status { return StatusInventoryReserved }

func (s *ReserveStep) Execute(_ context.Context, item *stepsaga.WorkItem[Order]) (stepsaga.StepResult, error) {
	o := item.Attributes
	available, ok := s.stock.TryReserve(o.ProductID, o.Quantity)
	if !ok {
		return stepsaga.Failedf(InventoryStep, "insufficient stock for %s: available %d, requested %d",
			o.ProductID, available, o.Quantity), nil
	}
	s.reservations.Record(item.ID, Reservation{ProductID: o.ProductID, Quantity: o.Quantity})
	return stepsaga.Succeeded(InventoryStep), nil
}

// Compensate releases exactly the quantity this step reserved for the item.
func (s *ReserveStep) Compensate(_ context.Context, item *stepsaga.WorkItem[Order]) (stepsaga.StepResult, error) {
	if r, ok := s.reservations.Take(item.ID); ok {
		s.stock.Release(r.ProductID, r.Quantity)
	}
	return stepsaga.Succeeded(InventoryStep), nil
}

// ChargeStep charges the order amount up to a fixed ceiling.
type ChargeStep struct {
	limit    decimal.Decimal
	payments *ledger.Records[uuid.UUID, Payment]
}

// NewChargeStep creates a ChargeStep. A zero limit means DefaultChargeLimit.
func NewChargeStep(limit decimal.Decimal, payments *ledger.Records[uuid.UUID, Payment]) *ChargeStep {
	if limit.IsZero() {
		limit = DefaultChargeLimit
	}
	return &ChargeStep{limit: limit, payments: payments}
}

func (s *ChargeStep) Name() stepsaga.StepName          { return PaymentStep }
func (s *ChargeStep) CompletedStatus() stepsaga.Status { return StatusPaymentCompleted }

func (s *ChargeStep) Execute(_ context.Context, item *stepsaga.WorkItem[Order]) (stepsaga.StepResult, error) {
	amount := item.Attributes.Amount
	if amount.GreaterThan(s.limit) {
		return stepsaga.Failedf(PaymentStep, "amount %s exceeds limit of %s", amount, s.limit), nil
	}
	payment := Payment{ID: referenceID("PAY"), Amount: amount}
	s.payments.Record(item.ID, payment)
	item.Attributes.PaymentID = payment.ID
	return stepsaga.Succeeded(PaymentStep), nil
}

// Compensate refunds the payment made for the item, if any.
func (s *ChargeStep) Compensate(_ context.Context, item *stepsaga.WorkItem[Order]) (stepsaga.StepResult, error) {
	if _, ok := s.payments.Take(item.ID); ok {
		item.Attributes.PaymentID = ""
	}
	return stepsaga.Succeeded(PaymentStep), nil
}

// FulfillStep schedules the shipment.
type FulfillStep struct {
	shipments *ledger.Records[uuid.UUID, string]
}

// NewFulfillStep creates a FulfillStep recording tracking numbers in shipments.
func NewFulfillStep(shipments *ledger.Records[uuid.UUID, string]) *FulfillStep {
	return &FulfillStep{shipments: shipments}
}

func (s *FulfillStep) Name() stepsaga.StepName          { return ShippingStep }
func (s *FulfillStep) CompletedStatus() stepsaga.Status { return StatusShippingScheduled }

func (s *FulfillStep) Execute(_ context.Context, item *stepsaga.WorkItem[Order]) (stepsaga.StepResult, error) {
	tracking := referenceID("TRK")
	s.shipments.Record(item.ID, tracking)
	item.Attributes.TrackingID = tracking
	return stepsaga.Succeeded(ShippingStep), nil
}

// Compensate cancels the shipment scheduled for the item, if any.
func (s *FulfillStep) Compensate(_ context.Context, item *stepsaga.WorkItem[Order]) (stepsaga.StepResult, error) {
	if _, ok := s.shipments.Take(item.ID); ok {
		item.Attributes.TrackingID = ""
	}
	return stepsaga.Succeeded(ShippingStep), nil
}

// referenceID returns prefix followed by eight upper-case hex characters.
func referenceID(prefix string) string {
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}
