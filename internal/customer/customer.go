// Package customer is the shop's CRM: contacts, channel opt-ins, tailoring
// measurements, interaction notes and loyalty points.
package customer

import (
	"database/sql/driver"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/sqlstore"
)

const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// TierFor maps a points balance to its loyalty tier.
func TierFor(points int64) string {
	switch {
	case points < 500:
		return TierBronze
	case points < 2000:
		return TierSilver
	case points < 5000:
		return TierGold
	default:
		return TierPlatinum
	}
}

func normalizeTier(tier string) string {
	s := strings.ToLower(strings.TrimSpace(tier))
	switch s {
	case TierBronze, TierSilver, TierGold, TierPlatinum:
		return s
	default:
		return ""
	}
}

// Measurements maps a body measurement name to centimetres.
type Measurements map[string]decimal.Decimal

func (m *Measurements) Scan(src any) error { return sqlstore.ScanJSON(src, m) }

func (m Measurements) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return sqlstore.JSONValue(map[string]decimal.Decimal(m))
}

type Customer struct {
	ID            string           `json:"id" db:"id"`
	TenantID      string           `json:"tenant_id" db:"tenant_id"`
	Name          string           `json:"name" db:"name"`
	Phone         string           `json:"phone" db:"phone"`
	Email         string           `json:"email,omitempty" db:"email"`
	WhatsAppOptIn bool             `json:"whatsapp_opt_in" db:"whatsapp_opt_in"`
	SMSOptIn      bool             `json:"sms_opt_in" db:"sms_opt_in"`
	EmailOptIn    bool             `json:"email_opt_in" db:"email_opt_in"`
	PushToken     string           `json:"push_token,omitempty" db:"push_token"`
	Tags          sqlstore.Strings `json:"tags" db:"tags"`
	Notes         string           `json:"notes,omitempty" db:"notes"`
	LoyaltyPoints int64            `json:"loyalty_points" db:"loyalty_points"`
	Tier          string           `json:"tier" db:"tier"`
	Measurements  Measurements     `json:"measurements" db:"measurements"`
	MeasuredAt    *time.Time       `json:"measured_at,omitempty" db:"measured_at"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

// HasTag reports whether the customer carries tag.
func (c Customer) HasTag(tag string) bool {
	tag = normalizeTag(tag)
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type Note struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	CustomerID string    `json:"customer_id" db:"customer_id"`
	Author     string    `json:"author,omitempty" db:"author"`
	Body       string    `json:"body" db:"body"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type CreateCustomerRequest struct {
	Name          string            `json:"name" validate:"required,max=200"`
	Phone         string            `json:"phone" validate:"required,max=32"`
	Email         string            `json:"email" validate:"omitempty,email"`
	WhatsAppOptIn *bool             `json:"whatsapp_opt_in"`
	SMSOptIn      *bool             `json:"sms_opt_in"`
	EmailOptIn    *bool             `json:"email_opt_in"`
	PushToken     string            `json:"push_token" validate:"max=512"`
	Tags          []string          `json:"tags" validate:"max=30,dive,max=50"`
	Notes         string            `json:"notes" validate:"max=4000"`
	Measurements  map[string]string `json:"measurements"`
}

type UpdateCustomerRequest struct {
	Name          *string   `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Phone         *string   `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email         *string   `json:"email,omitempty" validate:"omitempty,email"`
	WhatsAppOptIn *bool     `json:"whatsapp_opt_in,omitempty"`
	SMSOptIn      *bool     `json:"sms_opt_in,omitempty"`
	EmailOptIn    *bool     `json:"email_opt_in,omitempty"`
	PushToken     *string   `json:"push_token,omitempty" validate:"omitempty,max=512"`
	Tags          *[]string `json:"tags,omitempty" validate:"omitempty,max=30,dive,max=50"`
	Notes         *string   `json:"notes,omitempty" validate:"omitempty,max=4000"`
}

func (r UpdateCustomerRequest) empty() bool {
	return r.Name == nil && r.Phone == nil && r.Email == nil && r.WhatsAppOptIn == nil &&
		r.SMSOptIn == nil && r.EmailOptIn == nil && r.PushToken == nil && r.Tags == nil && r.Notes == nil
}

type MeasurementsRequest struct {
	Measurements map[string]string `json:"measurements" validate:"required,min=1"`
}

type NoteRequest struct {
	Body   string `json:"body" validate:"required,max=4000"`
	Author string `json:"author" validate:"max=100"`
}

type PointsRequest struct {
	Delta  int64  `json:"delta" validate:"ne=0"`
	Reason string `json:"reason" validate:"max=200"`
}

type ListFilter struct {
	Tag    string
	Tier   string
	Query  string
	Cursor string
	Limit  int
}

// NormalizePhone keeps the digits of phone behind a leading "+". A leading
// "00" international prefix is dropped.
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if !strings.HasPrefix(phone, "+") {
		d = strings.TrimPrefix(d, "00")
	}
	if len(d) < 8 || len(d) > 15 {
		return "", errors.Invalidf("invalid phone number %q", phone)
	}
	return "+" + d, nil
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func normalizeTags(tags []string) sqlstore.Strings {
	out := sqlstore.Strings{}
	seen := map[string]bool{}
	for _, t := range tags {
		t = normalizeTag(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// parseMeasurements requires every value to be a positive number of centimetres.
func parseMeasurements(in map[string]string) (Measurements, error) {
	out := Measurements{}
	for name, raw := range in {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return nil, errors.New(errors.EInvalid, "measurement name is required")
		}
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !d.IsPositive() {
			return nil, errors.Invalidf("measurement %s must be a positive number", name)
		}
		out[name] = d.Round(1)
	}
	return out, nil
}

func buildCustomer(tenantID string, req CreateCustomerRequest) (Customer, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return Customer{}, err
	}
	c := Customer{
		TenantID:      tenantID,
		Name:          strings.TrimSpace(req.Name),
		Phone:         phone,
		Email:         strings.ToLower(strings.TrimSpace(req.Email)),
		WhatsAppOptIn: boolOr(req.WhatsAppOptIn, true),
		SMSOptIn:      boolOr(req.SMSOptIn, true),
		EmailOptIn:    boolOr(req.EmailOptIn, req.Email != ""),
		PushToken:     strings.TrimSpace(req.PushToken),
		Tags:          normalizeTags(req.Tags),
		Notes:         strings.TrimSpace(req.Notes),
		Tier:          TierBronze,
		Measurements:  Measurements{},
	}
	if c.Name == "" {
		return Customer{}, errors.New(errors.EInvalid, "name is required")
	}
	if len(req.Measurements) > 0 {
		m, err := parseMeasurements(req.Measurements)
		if err != nil {
			return Customer{}, err
		}
		c.Measurements = m
	}
	return c, nil
}

func (r UpdateCustomerRequest) apply(c *Customer) error {
	if r.Name != nil {
		c.Name = strings.TrimSpace(*r.Name)
	}
	if r.Phone != nil {
		phone, err := NormalizePhone(*r.Phone)
		if err != nil {
			return err
		}
		c.Phone = phone
	}
	if r.Email != nil {
		c.Email = strings.ToLower(strings.TrimSpace(*r.Email))
	}
	if r.WhatsAppOptIn != nil {
		c.WhatsAppOptIn = *r.WhatsAppOptIn
	}
	if r.SMSOptIn != nil {
		c.SMSOptIn = *r.SMSOptIn
	}
	if r.EmailOptIn != nil {
		c.EmailOptIn = *r.EmailOptIn
	}
	if r.PushToken != nil {
		c.PushToken = strings.TrimSpace(*r.PushToken)
	}
	if r.Tags != nil {
		c.Tags = normalizeTags(*r.Tags)
	}
	if r.Notes != nil {
		c.Notes = strings.TrimSpace(*r.Notes)
	}
	if c.Name == "" {
		return errors.New(errors.EInvalid, "name is required")
	}
	return nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
