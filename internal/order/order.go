// Package order takes orders for ready-made goods and tailoring work,
// reserving stock, pricing lines from the catalog and driving the order
// lifecycle.
package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/money"
	"erp/ecommerce/internal/platform/sqlstore"
)

const (
	KindStandard = "standard"
	KindCustom   = "custom"
)

const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

const (
	PaymentUnpaid            = "unpaid"
	PaymentPending           = "pending"
	PaymentPaid              = "paid"
	PaymentPartiallyRefunded = "partially_refunded"
	PaymentRefunded          = "refunded"
	PaymentFailed            = "failed"
)

var transitions = map[string][]string{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusReady, StatusCancelled},
	StatusReady:      {StatusShipped, StatusDelivered},
	StatusShipped:    {StatusDelivered},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusReady, StatusShipped, StatusDelivered, StatusCancelled:
		return s
	default:
		return ""
	}
}

func normalizePaymentStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case PaymentUnpaid, PaymentPending, PaymentPaid, PaymentPartiallyRefunded, PaymentRefunded, PaymentFailed:
		return s
	default:
		return ""
	}
}

func normalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch k {
	case KindStandard, KindCustom:
		return k
	default:
		return ""
	}
}

type Order struct {
	ID              string             `json:"id" db:"id"`
	TenantID        string             `json:"tenant_id" db:"tenant_id"`
	Number          string             `json:"number" db:"number"`
	CustomerID      string             `json:"customer_id" db:"customer_id"`
	Kind            string             `json:"kind" db:"kind"`
	Status          string             `json:"status" db:"status"`
	PaymentStatus   string             `json:"payment_status" db:"payment_status"`
	Currency        string             `json:"currency" db:"currency"`
	Subtotal        decimal.Decimal    `json:"subtotal" db:"subtotal"`
	Discount        decimal.Decimal    `json:"discount" db:"discount"`
	Shipping        decimal.Decimal    `json:"shipping" db:"shipping"`
	Tax             decimal.Decimal    `json:"tax" db:"tax"`
	Total           decimal.Decimal    `json:"total" db:"total"`
	AmountPaid      decimal.Decimal    `json:"amount_paid" db:"amount_paid"`
	ShippingAddress sqlstore.StringMap `json:"shipping_address" db:"shipping_address"`
	Notes           string             `json:"notes,omitempty" db:"notes"`
	DueDate         *time.Time         `json:"due_date,omitempty" db:"due_date"`
	ConfirmedAt     *time.Time         `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty" db:"cancelled_at"`
	DeliveredAt     *time.Time         `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`

	Items []Item `json:"items" db:"-"`
}

// Balance is what remains to be paid.
func (o Order) Balance() decimal.Decimal {
	b := o.Total.Sub(o.AmountPaid)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// Open reports whether the order can still be paid.
func (o Order) Open() bool {
	return o.Status != StatusCancelled && o.PaymentStatus != PaymentPaid &&
		o.PaymentStatus != PaymentRefunded && o.PaymentStatus != PaymentPartiallyRefunded
}

// CustomItems returns the lines that need tailoring work.
func (o Order) CustomItems() []Item {
	var out []Item
	for _, it := range o.Items {
		if it.Custom {
			out = append(out, it)
		}
	}
	return out
}

type Item struct {
	ID          string          `json:"id" db:"id"`
	TenantID    string          `json:"-" db:"tenant_id"`
	OrderID     string          `json:"order_id" db:"order_id"`
	Position    int             `json:"position" db:"position"`
	ProductID   string          `json:"product_id,omitempty" db:"product_id"`
	SKU         string          `json:"sku,omitempty" db:"sku"`
	Name        string          `json:"name" db:"name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total" db:"line_total"`
	Custom      bool            `json:"custom" db:"custom"`
	GarmentType string          `json:"garment_type,omitempty" db:"garment_type"`
	Fabric      string          `json:"fabric,omitempty" db:"fabric"`
	Notes       string          `json:"notes,omitempty" db:"notes"`
}

type ItemRequest struct {
	ProductID   string `json:"product_id" validate:"max=64"`
	Name        string `json:"name" validate:"max=200"`
	Quantity    int    `json:"quantity" validate:"required,min=1,max=10000"`
	UnitPrice   string `json:"unit_price" validate:"money"`
	GarmentType string `json:"garment_type" validate:"max=100"`
	Fabric      string `json:"fabric" validate:"max=200"`
	Notes       string `json:"notes" validate:"max=2000"`
}

// custom reports whether the line is tailoring work rather than a stock item.
func (r ItemRequest) custom() bool {
	return strings.TrimSpace(r.ProductID) == "" || strings.TrimSpace(r.GarmentType) != ""
}

type CreateOrderRequest struct {
	CustomerID      string            `json:"customer_id" validate:"required"`
	Kind            string            `json:"kind" validate:"omitempty,oneof=standard custom"`
	Items           []ItemRequest     `json:"items" validate:"required,min=1,max=100,dive"`
	Discount        string            `json:"discount" validate:"money"`
	Shipping        string            `json:"shipping" validate:"money"`
	Notes           string            `json:"notes" validate:"max=4000"`
	ShippingAddress map[string]string `json:"shipping_address"`
	DueDate         *time.Time        `json:"due_date"`
}

type UpdateOrderRequest struct {
	Notes           *string            `json:"notes,omitempty" validate:"omitempty,max=4000"`
	ShippingAddress *map[string]string `json:"shipping_address,omitempty"`
	DueDate         *time.Time         `json:"due_date,omitempty"`
}

func (r UpdateOrderRequest) empty() bool {
	return r.Notes == nil && r.ShippingAddress == nil && r.DueDate == nil
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed processing ready shipped delivered cancelled"`
	Note   string `json:"note" validate:"max=1000"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// PaymentUpdate is applied by the payment module after reconciliation.
type PaymentUpdate struct {
	Status string
	// Paid is added to the order's amount_paid; Refunded is subtracted.
	Paid     decimal.Decimal
	Refunded decimal.Decimal
}

type ListFilter struct {
	CustomerID    string
	Status        string
	PaymentStatus string
	Kind          string
	Cursor        string
	Limit         int
}

// Totals are the computed amounts of an order.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals prices items and applies discount, shipping and the tax rate.
// Tax is charged on the discounted subtotal.
func ComputeTotals(items []Item, discount, shipping, taxRate decimal.Decimal) (Totals, error) {
	if discount.IsNegative() || shipping.IsNegative() || taxRate.IsNegative() {
		return Totals{}, errors.New(errors.EInvalid, "amounts must not be negative")
	}
	t := Totals{Discount: money.Round(discount), Shipping: money.Round(shipping)}
	for i := range items {
		items[i].LineTotal = money.Round(items[i].UnitPrice.Mul(decimal.NewFromInt(int64(items[i].Quantity))))
		t.Subtotal = t.Subtotal.Add(items[i].LineTotal)
	}
	if t.Discount.GreaterThan(t.Subtotal) {
		return Totals{}, errors.New(errors.EInvalid, "discount cannot exceed subtotal")
	}
	t.Tax = money.Round(t.Subtotal.Sub(t.Discount).Mul(taxRate))
	t.Total = t.Subtotal.Sub(t.Discount).Add(t.Shipping).Add(t.Tax)
	return t, nil
}
