// Package invoice issues numbered invoices for orders and renders them as
// printable documents.
package invoice

import (
	"database/sql/driver"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"erp/ecommerce/internal/platform/sqlstore"
)

const (
	StatusDraft  = "draft"
	StatusIssued = "issued"
	StatusPaid   = "paid"
	StatusVoid   = "void"
)

// DefaultTermDays is how long a customer has to pay an issued invoice.
const DefaultTermDays = 7

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case StatusDraft, StatusIssued, StatusPaid, StatusVoid:
		return s
	default:
		return ""
	}
}

type Line struct {
	SKU       string          `json:"sku,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Lines is stored as a JSON array.
type Lines []Line

func (l *Lines) Scan(src any) error { return sqlstore.ScanJSON(src, l) }

func (l Lines) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return sqlstore.JSONValue([]Line(l))
}

type Invoice struct {
	ID            string          `json:"id" db:"id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	Number        string          `json:"number" db:"number"`
	OrderID       string          `json:"order_id" db:"order_id"`
	CustomerID    string          `json:"customer_id" db:"customer_id"`
	CustomerName  string          `json:"customer_name" db:"customer_name"`
	CustomerPhone string          `json:"customer_phone,omitempty" db:"customer_phone"`
	CustomerEmail string          `json:"customer_email,omitempty" db:"customer_email"`
	Lines         Lines           `json:"lines" db:"lines"`
	Currency      string          `json:"currency" db:"currency"`
	Subtotal      decimal.Decimal `json:"subtotal" db:"subtotal"`
	Discount      decimal.Decimal `json:"discount" db:"discount"`
	Shipping      decimal.Decimal `json:"shipping" db:"shipping"`
	Tax           decimal.Decimal `json:"tax" db:"tax"`
	Total         decimal.Decimal `json:"total" db:"total"`
	Status        string          `json:"status" db:"status"`
	Notes         string          `json:"notes,omitempty" db:"notes"`
	IssuedAt      *time.Time      `json:"issued_at,omitempty" db:"issued_at"`
	DueAt         *time.Time      `json:"due_at,omitempty" db:"due_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	VoidedAt      *time.Time      `json:"voided_at,omitempty" db:"voided_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

type CreateInvoiceRequest struct {
	OrderID string     `json:"order_id" validate:"required"`
	Notes   string     `json:"notes" validate:"max=4000"`
	DueAt   *time.Time `json:"due_at"`
	// Issue issues the invoice straight away.
	Issue bool `json:"issue"`
}

type IssueRequest struct {
	DueAt *time.Time `json:"due_at"`
}

type VoidRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type ListFilter struct {
	Status     string
	CustomerID string
	OrderID    string
	Cursor     string
	Limit      int
}

const (
	FormatHTML = "html"
	FormatText = "text"
)

// Document is a rendered invoice.
type Document struct {
	ContentType string
	Body        []byte
}
