// Package fulfillment tracks the shipments that carry orders to customers.
package fulfillment

import (
	"strings"
	"time"
)

const (
	StatusPending   = "pending"
	StatusPacked    = "packed"
	StatusShipped   = "shipped"
	StatusDelivered = "delivered"
	StatusReturned  = "returned"
	StatusCancelled = "cancelled"

	DefaultServiceType = "standard"
)

var transitions = map[string][]string{
	StatusPending: {StatusPacked, StatusCancelled},
	StatusPacked:  {StatusShipped, StatusCancelled},
	StatusShipped: {StatusDelivered, StatusReturned},
}

// CanTransition reports whether a shipment may move from one status to another.
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
	case StatusPending, StatusPacked, StatusShipped, StatusDelivered, StatusReturned, StatusCancelled:
		return s
	default:
		return ""
	}
}

// closed reports whether the shipment can no longer be edited.
func closed(status string) bool {
	return status == StatusDelivered || status == StatusReturned || status == StatusCancelled
}

type Shipment struct {
	ID             string     `json:"id" db:"id"`
	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	OrderID        string     `json:"order_id" db:"order_id"`
	Carrier        string     `json:"carrier,omitempty" db:"carrier"`
	TrackingNumber string     `json:"tracking_number,omitempty" db:"tracking_number"`
	ServiceType    string     `json:"service_type" db:"service_type"`
	Status         string     `json:"status" db:"status"`
	Notes          string     `json:"notes,omitempty" db:"notes"`
	PackedAt       *time.Time `json:"packed_at,omitempty" db:"packed_at"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty" db:"shipped_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

type CreateShipmentRequest struct {
	OrderID        string `json:"order_id" validate:"required"`
	Carrier        string `json:"carrier" validate:"max=100"`
	TrackingNumber string `json:"tracking_number" validate:"max=100"`
	ServiceType    string `json:"service_type" validate:"max=50"`
	Notes          string `json:"notes" validate:"max=4000"`
}

type UpdateShipmentRequest struct {
	Carrier        *string `json:"carrier,omitempty" validate:"omitempty,max=100"`
	TrackingNumber *string `json:"tracking_number,omitempty" validate:"omitempty,max=100"`
	ServiceType    *string `json:"service_type,omitempty" validate:"omitempty,max=50"`
	Notes          *string `json:"notes,omitempty" validate:"omitempty,max=4000"`
}

func (r UpdateShipmentRequest) empty() bool {
	return r.Carrier == nil && r.TrackingNumber == nil && r.ServiceType == nil && r.Notes == nil
}

func (r UpdateShipmentRequest) apply(s *Shipment) {
	if r.Carrier != nil {
		s.Carrier = strings.TrimSpace(*r.Carrier)
	}
	if r.TrackingNumber != nil {
		s.TrackingNumber = strings.TrimSpace(*r.TrackingNumber)
	}
	if r.ServiceType != nil {
		if st := strings.ToLower(strings.TrimSpace(*r.ServiceType)); st != "" {
			s.ServiceType = st
		}
	}
	if r.Notes != nil {
		s.Notes = strings.TrimSpace(*r.Notes)
	}
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending packed shipped delivered returned cancelled"`
	Note   string `json:"note" validate:"max=1000"`
}

type ListFilter struct {
	OrderID string
	Status  string
	Carrier string
	Cursor  string
	Limit   int
}
