// Package payment collects order payments through an online gateway or
// records offline ones, and reconciles gateway outcomes into orders,
// invoices and loyalty points exactly once.
package payment

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusInitialized = "initialized"
	StatusPending     = "pending"
	StatusSucceeded   = "succeeded"
	StatusFailed      = "failed"
	StatusAbandoned   = "abandoned"
	StatusRefunded    = "refunded"

	StatusPartiallyRefunded = "partially_refunded"
)

const (
	ProviderGateway      = "gateway"
	ProviderCash         = "cash"
	ProviderBankTransfer = "bank_transfer"
	ProviderMobileMoney  = "mobile_money"
)

// rank orders statuses so reconciliation only moves forward.
var rank = map[string]int{
	StatusInitialized:       0,
	StatusPending:           1,
	StatusFailed:            2,
	StatusAbandoned:         2,
	StatusSucceeded:         3,
	StatusPartiallyRefunded: 4,
	StatusRefunded:          5,
}

// CanMove reports whether a payment in status from may be reconciled to to.
func CanMove(from, to string) bool {
	rf, ok := rank[from]
	if !ok {
		return false
	}
	rt, ok := rank[to]
	if !ok {
		return false
	}
	if to == StatusRefunded || to == StatusPartiallyRefunded {
		return from == StatusSucceeded || from == StatusPartiallyRefunded
	}
	return rt > rf
}

// Open reports whether the payment still waits for the customer.
func (p Payment) Open() bool {
	return p.Status == StatusInitialized || p.Status == StatusPending
}

func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if _, ok := rank[s]; ok {
		return s
	}
	return ""
}

type Payment struct {
	ID               string          `json:"id" db:"id"`
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	OrderID          string          `json:"order_id" db:"order_id"`
	Reference        string          `json:"reference" db:"reference"`
	Provider         string          `json:"provider" db:"provider"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Currency         string          `json:"currency" db:"currency"`
	Status           string          `json:"status" db:"status"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount" db:"refunded_amount"`
	ProviderTxnID    string          `json:"provider_txn_id,omitempty" db:"provider_txn_id"`
	AuthorizationURL string          `json:"authorization_url,omitempty" db:"authorization_url"`
	Channel          string          `json:"channel,omitempty" db:"channel"`
	FailureReason    string          `json:"failure_reason,omitempty" db:"failure_reason"`
	PaidAt           *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Event is a stored gateway webhook delivery.
type Event struct {
	ID         string    `json:"id" db:"id"`
	EventID    string    `json:"event_id" db:"event_id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	Reference  string    `json:"reference" db:"reference"`
	Type       string    `json:"type" db:"type"`
	Status     string    `json:"status" db:"status"`
	Payload    string    `json:"-" db:"payload"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// Outcome is what the gateway (or a cashier) says happened to a payment.
type Outcome struct {
	Status        string
	Amount        decimal.Decimal
	Currency      string
	ProviderTxnID string
	Channel       string
	PaidAt        time.Time
	Reason        string
	// Refunded is the amount returned by a refund. Zero refunds whatever is left.
	Refunded decimal.Decimal
}

type InitializeRequest struct {
	OrderID     string `json:"order_id" validate:"required"`
	Email       string `json:"email" validate:"omitempty,email"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
}

type ManualRequest struct {
	OrderID string `json:"order_id" validate:"required"`
	Method  string `json:"method" validate:"required,oneof=cash bank_transfer mobile_money"`
	Amount  string `json:"amount" validate:"required,money"`
	Note    string `json:"note" validate:"max=1000"`
}

type ListFilter struct {
	OrderID string
	Status  string
	Cursor  string
	Limit   int
}

// WebhookResult is the acknowledgement returned to the gateway.
type WebhookResult struct {
	EventID   string `json:"event_id"`
	Reference string `json:"reference,omitempty"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`
	Status    string `json:"status,omitempty"`
}

// NewReference returns "<tenant-short>-<uuid>", unique across tenants.
func NewReference(tenantID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(tenantID) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	short := b.String()
	if short == "" {
		short = "PAY"
	}
	return short + "-" + uuid.NewString()
}
