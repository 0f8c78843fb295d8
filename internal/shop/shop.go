// Package shop stores per-tenant shop settings: currency, tax rate, document
// prefixes and the sender identity used for customer notifications.
package shop

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/money"
)

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"

	DefaultCurrency      = "USD"
	DefaultOrderPrefix   = "ORD"
	DefaultInvoicePrefix = "INV"
	DefaultTimezone      = "UTC"
)

type Shop struct {
	ID            string          `json:"id,omitempty" db:"id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	Name          string          `json:"name" db:"name"`
	Slug          string          `json:"slug" db:"slug"`
	Currency      string          `json:"currency" db:"currency"`
	TaxRate       decimal.Decimal `json:"tax_rate" db:"tax_rate"`
	OrderPrefix   string          `json:"order_prefix" db:"order_prefix"`
	InvoicePrefix string          `json:"invoice_prefix" db:"invoice_prefix"`
	SenderName    string          `json:"sender_name,omitempty" db:"sender_name"`
	ContactPhone  string          `json:"contact_phone,omitempty" db:"contact_phone"`
	ContactEmail  string          `json:"contact_email,omitempty" db:"contact_email"`
	Address       string          `json:"address,omitempty" db:"address"`
	Timezone      string          `json:"timezone" db:"timezone"`
	Status        string          `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Active reports whether the shop may take new orders.
func (s Shop) Active() bool {
	return s.Status != StatusSuspended
}

// DisplayName is the name customers see on messages and documents.
func (s Shop) DisplayName() string {
	if s.SenderName != "" {
		return s.SenderName
	}
	return s.Name
}

// Defaults returns the settings used for a tenant that never saved any.
func Defaults(tenantID string) Shop {
	return Shop{
		TenantID:      tenantID,
		Name:          tenantID,
		Slug:          Slugify(tenantID),
		Currency:      DefaultCurrency,
		TaxRate:       decimal.Zero,
		OrderPrefix:   DefaultOrderPrefix,
		InvoicePrefix: DefaultInvoicePrefix,
		Timezone:      DefaultTimezone,
		Status:        StatusActive,
	}
}

type UpsertShopRequest struct {
	Name          string `json:"name" validate:"required,max=200"`
	Slug          string `json:"slug" validate:"omitempty,max=100"`
	Currency      string `json:"currency" validate:"omitempty,len=3,alpha"`
	TaxRate       string `json:"tax_rate" validate:"money"`
	OrderPrefix   string `json:"order_prefix" validate:"omitempty,max=10,alphanum"`
	InvoicePrefix string `json:"invoice_prefix" validate:"omitempty,max=10,alphanum"`
	SenderName    string `json:"sender_name" validate:"max=100"`
	ContactPhone  string `json:"contact_phone" validate:"max=32"`
	ContactEmail  string `json:"contact_email" validate:"omitempty,email"`
	Address       string `json:"address" validate:"max=500"`
	Timezone      string `json:"timezone" validate:"iana_tz"`
	Status        string `json:"status" validate:"omitempty,oneof=active suspended"`
}

type UpdateShopRequest struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Slug          *string `json:"slug,omitempty" validate:"omitempty,max=100"`
	Currency      *string `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	TaxRate       *string `json:"tax_rate,omitempty" validate:"omitempty,money"`
	OrderPrefix   *string `json:"order_prefix,omitempty" validate:"omitempty,max=10,alphanum"`
	InvoicePrefix *string `json:"invoice_prefix,omitempty" validate:"omitempty,max=10,alphanum"`
	SenderName    *string `json:"sender_name,omitempty" validate:"omitempty,max=100"`
	ContactPhone  *string `json:"contact_phone,omitempty" validate:"omitempty,max=32"`
	ContactEmail  *string `json:"contact_email,omitempty" validate:"omitempty,email"`
	Address       *string `json:"address,omitempty" validate:"omitempty,max=500"`
	Timezone      *string `json:"timezone,omitempty" validate:"omitempty,iana_tz"`
	Status        *string `json:"status,omitempty" validate:"omitempty,oneof=active suspended"`
}

func (r UpdateShopRequest) empty() bool {
	return r.Name == nil && r.Slug == nil && r.Currency == nil && r.TaxRate == nil &&
		r.OrderPrefix == nil && r.InvoicePrefix == nil && r.SenderName == nil &&
		r.ContactPhone == nil && r.ContactEmail == nil && r.Address == nil &&
		r.Timezone == nil && r.Status == nil
}

// apply copies the request onto s, normalizing as it goes.
func (r UpsertShopRequest) apply(s *Shop) error {
	s.Name = strings.TrimSpace(r.Name)
	s.Slug = strings.TrimSpace(r.Slug)
	if s.Slug == "" {
		s.Slug = Slugify(s.Name)
	}
	s.Currency = money.Currency(r.Currency, DefaultCurrency)
	rate, err := parseTaxRate(r.TaxRate)
	if err != nil {
		return err
	}
	s.TaxRate = rate
	s.OrderPrefix = prefix(r.OrderPrefix, DefaultOrderPrefix)
	s.InvoicePrefix = prefix(r.InvoicePrefix, DefaultInvoicePrefix)
	s.SenderName = strings.TrimSpace(r.SenderName)
	s.ContactPhone = strings.TrimSpace(r.ContactPhone)
	s.ContactEmail = strings.ToLower(strings.TrimSpace(r.ContactEmail))
	s.Address = strings.TrimSpace(r.Address)
	s.Timezone = strings.TrimSpace(r.Timezone)
	if s.Timezone == "" {
		s.Timezone = DefaultTimezone
	}
	s.Status = normalizeStatus(r.Status)
	if s.Status == "" {
		s.Status = StatusActive
	}
	return nil
}

func (r UpdateShopRequest) apply(s *Shop) error {
	if r.Name != nil {
		s.Name = strings.TrimSpace(*r.Name)
	}
	if r.Slug != nil {
		s.Slug = Slugify(*r.Slug)
	}
	if r.Currency != nil {
		s.Currency = money.Currency(*r.Currency, s.Currency)
	}
	if r.TaxRate != nil {
		rate, err := parseTaxRate(*r.TaxRate)
		if err != nil {
			return err
		}
		s.TaxRate = rate
	}
	if r.OrderPrefix != nil {
		s.OrderPrefix = prefix(*r.OrderPrefix, s.OrderPrefix)
	}
	if r.InvoicePrefix != nil {
		s.InvoicePrefix = prefix(*r.InvoicePrefix, s.InvoicePrefix)
	}
	if r.SenderName != nil {
		s.SenderName = strings.TrimSpace(*r.SenderName)
	}
	if r.ContactPhone != nil {
		s.ContactPhone = strings.TrimSpace(*r.ContactPhone)
	}
	if r.ContactEmail != nil {
		s.ContactEmail = strings.ToLower(strings.TrimSpace(*r.ContactEmail))
	}
	if r.Address != nil {
		s.Address = strings.TrimSpace(*r.Address)
	}
	if r.Timezone != nil && strings.TrimSpace(*r.Timezone) != "" {
		s.Timezone = strings.TrimSpace(*r.Timezone)
	}
	if r.Status != nil {
		ns := normalizeStatus(*r.Status)
		if ns == "" {
			return errors.New(errors.EInvalid, "invalid status")
		}
		s.Status = ns
	}
	return nil
}

func parseTaxRate(raw string) (decimal.Decimal, error) {
	rate, err := money.Parse(raw)
	if err != nil {
		return decimal.Zero, errors.Invalidf("tax_rate: %v", err)
	}
	if rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.New(errors.EInvalid, "tax_rate must be a fraction between 0 and 1")
	}
	return rate, nil
}

func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case StatusActive, StatusSuspended:
		return s
	default:
		return ""
	}
}

func prefix(p, def string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	if p == "" {
		return def
	}
	return p
}

// Slugify lower-cases s and joins its letters and digits with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
