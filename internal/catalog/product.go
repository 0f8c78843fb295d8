// Package catalog manages the products a shop sells: ready-made garments,
// fabric by the metre and tailoring services.
package catalog

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/money"
	"erp/ecommerce/internal/platform/sqlstore"
)

const (
	KindReadyMade = "ready_made"
	KindFabric    = "fabric"
	KindService   = "service"

	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusArchived = "archived"
)

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

type Product struct {
	ID             string              `json:"id" db:"id"`
	TenantID       string              `json:"tenant_id" db:"tenant_id"`
	SKU            string              `json:"sku" db:"sku"`
	Name           string              `json:"name" db:"name"`
	Description    string              `json:"description,omitempty" db:"description"`
	Category       string              `json:"category,omitempty" db:"category"`
	Kind           string              `json:"kind" db:"kind"`
	Price          decimal.Decimal     `json:"price" db:"price"`
	CompareAtPrice decimal.NullDecimal `json:"compare_at_price" db:"compare_at_price"`
	Currency       string              `json:"currency" db:"currency"`
	StockQuantity  int                 `json:"stock_quantity" db:"stock_quantity"`
	TrackInventory bool                `json:"track_inventory" db:"track_inventory"`
	Status         string              `json:"status" db:"status"`
	Images         sqlstore.Strings    `json:"images" db:"images"`
	Attributes     sqlstore.StringMap  `json:"attributes" db:"attributes"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

type CreateProductRequest struct {
	SKU            string            `json:"sku" validate:"required,max=64"`
	Name           string            `json:"name" validate:"required,max=200"`
	Description    string            `json:"description" validate:"max=4000"`
	Category       string            `json:"category" validate:"max=100"`
	Kind           string            `json:"kind" validate:"omitempty,oneof=ready_made fabric service"`
	Price          string            `json:"price" validate:"required,money"`
	CompareAtPrice string            `json:"compare_at_price" validate:"money"`
	Currency       string            `json:"currency" validate:"omitempty,len=3,alpha"`
	StockQuantity  int               `json:"stock_quantity" validate:"min=0"`
	TrackInventory *bool             `json:"track_inventory"`
	Status         string            `json:"status" validate:"omitempty,oneof=draft active archived"`
	Images         []string          `json:"images" validate:"max=20,dive,url"`
	Attributes     map[string]string `json:"attributes"`
}

type UpdateProductRequest struct {
	SKU            *string            `json:"sku,omitempty" validate:"omitempty,min=1,max=64"`
	Name           *string            `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description    *string            `json:"description,omitempty" validate:"omitempty,max=4000"`
	Category       *string            `json:"category,omitempty" validate:"omitempty,max=100"`
	Kind           *string            `json:"kind,omitempty" validate:"omitempty,oneof=ready_made fabric service"`
	Price          *string            `json:"price,omitempty" validate:"omitempty,money"`
	CompareAtPrice *string            `json:"compare_at_price,omitempty" validate:"omitempty,money"`
	Currency       *string            `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	TrackInventory *bool              `json:"track_inventory,omitempty"`
	Status         *string            `json:"status,omitempty" validate:"omitempty,oneof=draft active archived"`
	Images         *[]string          `json:"images,omitempty" validate:"omitempty,max=20,dive,url"`
	Attributes     *map[string]string `json:"attributes,omitempty"`
}

func (r UpdateProductRequest) empty() bool {
	return r.SKU == nil && r.Name == nil && r.Description == nil && r.Category == nil &&
		r.Kind == nil && r.Price == nil && r.CompareAtPrice == nil && r.Currency == nil &&
		r.TrackInventory == nil && r.Status == nil && r.Images == nil && r.Attributes == nil
}

type AdjustStockRequest struct {
	Delta  int    `json:"delta" validate:"ne=0"`
	Reason string `json:"reason" validate:"max=200"`
}

// ListFilter narrows a product listing. Empty fields match everything.
type ListFilter struct {
	Category string
	Status   string
	Kind     string
	Query    string
	Cursor   string
	Limit    int
}

// ---------------------------------------------------------------------------
// Build / Validate
// ---------------------------------------------------------------------------

func buildProduct(tenantID, currency string, req CreateProductRequest) (Product, error) {
	price, err := money.Parse(req.Price)
	if err != nil {
		return Product{}, errors.Invalidf("price: %v", err)
	}
	p := Product{
		TenantID:       tenantID,
		SKU:            normalizeSKU(req.SKU),
		Name:           strings.TrimSpace(req.Name),
		Description:    strings.TrimSpace(req.Description),
		Category:       strings.ToLower(strings.TrimSpace(req.Category)),
		Kind:           normalizeKind(req.Kind),
		Price:          money.Round(price),
		Currency:       money.Currency(req.Currency, currency),
		StockQuantity:  req.StockQuantity,
		TrackInventory: true,
		Status:         normalizeStatus(req.Status),
		Images:         sqlstore.Strings(req.Images),
		Attributes:     sqlstore.StringMap(req.Attributes),
	}
	if p.Images == nil {
		p.Images = sqlstore.Strings{}
	}
	if p.Attributes == nil {
		p.Attributes = sqlstore.StringMap{}
	}
	if p.Kind == "" {
		p.Kind = KindReadyMade
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if req.TrackInventory != nil {
		p.TrackInventory = *req.TrackInventory
	} else if p.Kind == KindService {
		p.TrackInventory = false
	}
	if err := setCompareAt(&p, req.CompareAtPrice); err != nil {
		return Product{}, err
	}
	return p, p.validate()
}

func (r UpdateProductRequest) apply(p *Product) error {
	if r.SKU != nil {
		p.SKU = normalizeSKU(*r.SKU)
	}
	if r.Name != nil {
		p.Name = strings.TrimSpace(*r.Name)
	}
	if r.Description != nil {
		p.Description = strings.TrimSpace(*r.Description)
	}
	if r.Category != nil {
		p.Category = strings.ToLower(strings.TrimSpace(*r.Category))
	}
	if r.Kind != nil {
		p.Kind = normalizeKind(*r.Kind)
	}
	if r.Price != nil {
		price, err := money.Parse(*r.Price)
		if err != nil {
			return errors.Invalidf("price: %v", err)
		}
		p.Price = money.Round(price)
	}
	if r.CompareAtPrice != nil {
		if err := setCompareAt(p, *r.CompareAtPrice); err != nil {
			return err
		}
	}
	if r.Currency != nil {
		p.Currency = money.Currency(*r.Currency, p.Currency)
	}
	if r.TrackInventory != nil {
		p.TrackInventory = *r.TrackInventory
	}
	if r.Status != nil {
		p.Status = normalizeStatus(*r.Status)
	}
	if r.Images != nil {
		p.Images = sqlstore.Strings(*r.Images)
	}
	if r.Attributes != nil {
		p.Attributes = sqlstore.StringMap(*r.Attributes)
	}
	return p.validate()
}

func setCompareAt(p *Product, raw string) error {
	if strings.TrimSpace(raw) == "" {
		p.CompareAtPrice = decimal.NullDecimal{}
		return nil
	}
	d, err := money.Parse(raw)
	if err != nil {
		return errors.Invalidf("compare_at_price: %v", err)
	}
	p.CompareAtPrice = decimal.NewNullDecimal(money.Round(d))
	return nil
}

func (p Product) validate() error {
	if p.SKU == "" {
		return errors.New(errors.EInvalid, "sku is required")
	}
	if p.Name == "" {
		return errors.New(errors.EInvalid, "name is required")
	}
	if p.Kind == "" {
		return errors.New(errors.EInvalid, "invalid kind")
	}
	if p.Status == "" {
		return errors.New(errors.EInvalid, "invalid status")
	}
	if p.CompareAtPrice.Valid && p.CompareAtPrice.Decimal.LessThan(p.Price) {
		return errors.New(errors.EInvalid, "compare_at_price must not be below price")
	}
	if p.StockQuantity < 0 {
		return errors.New(errors.EInvalid, "stock_quantity must not be negative")
	}
	return nil
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func normalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch k {
	case KindReadyMade, KindFabric, KindService:
		return k
	default:
		return ""
	}
}

func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case StatusDraft, StatusActive, StatusArchived:
		return s
	default:
		return ""
	}
}
