// Package order is a three-step order saga: reserve inventory, charge
// payment, schedule shipping. Each step remembers what it applied in an
// injected ledger keyed by the work item ID, so compensation only reverses
// effects that exist.
package order

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fortressi/stepsaga"
)

// Order is the attribute payload of an order work item.
type Order struct {
	CustomerID string          `json:"customer_id"`
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`

	// Set by steps while the saga runs and cleared by their compensation.
	PaymentID  string `json:"payment_id,omitempty"`
	TrackingID string `json:"tracking_id,omitempty"`
}

// String implements the fmt.Stringer interface for Order.
func (o Order) String() string {
	return fmt.Sprintf("customer=%s product=%s quantity=%d amount=%s", o.CustomerID, o.ProductID, o.Quantity, o.Amount)
}

// Request is an order submission before validation.
type Request struct {
	CustomerID string          `json:"customer_id" validate:"notblank"`
	ProductID  string          `json:"product_id" validate:"notblank"`
	Quantity   int             `json:"quantity" validate:"gte=1"`
	Amount     decimal.Decimal `json:"amount" validate:"gte=0.01"`
}

var (
	requestValidator     *validator.Validate
	requestValidatorOnce sync.Once
)

// Validator returns the shared validator with the order rules registered.
func Validator() *validator.Validate {
	requestValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
		_ = v.RegisterValidation("notblank", validateNotBlank)
		requestValidator = v
	})
	return requestValidator
}

// decimalValue lets numeric tags such as gte compare decimal amounts.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

func validateNotBlank(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return true
	}
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Validate checks the request and returns a single error naming every
// offending field.
func (r Request) Validate() error {
	err := Validator().Struct(r)
	if err == nil {
		return nil
	}
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, renderFieldError(fe))
	}
	return fmt.Errorf("invalid order request: %s", strings.Join(parts, "; "))
}

func renderFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank":
		return fmt.Sprintf("%s must not be blank", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// Submit validates req and creates a PENDING work item for it.
func Submit(req Request) (*stepsaga.WorkItem[Order], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return stepsaga.Submit(Order{
		CustomerID: strings.TrimSpace(req.CustomerID),
		ProductID:  strings.TrimSpace(req.ProductID),
		Quantity:   req.Quantity,
		Amount:     req.Amount,
	}), nil
}
