// Package notify delivers templated customer messages over WhatsApp, SMS,
// email and push.
//
// A Message names a template key and either a customer or a raw recipient.
// Send walks the preferred channels in order: for each channel it resolves
// the recipient (honouring opt-ins), renders the tenant's active template and
// tries every configured provider until one accepts the message. Every attempt
// is written to notification_logs. Identical messages sent to the same
// recipient within the dedupe window are suppressed.
//
// Enqueue stores a Message in notification_queue; the Worker delivers queued
// messages in batches and starts scheduled campaigns.
package notify

import (
	"context"
	"strings"
	"time"

	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/sqlstore"
	"erp/ecommerce/internal/shop"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelEmail    = "email"
	ChannelPush     = "push"
)

// DefaultChannels is the channel preference used when a message names none.
var DefaultChannels = []string{ChannelWhatsApp, ChannelSMS, ChannelEmail, ChannelPush}

// Delivery and log statuses.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Events raised by the other modules. Each is a template key.
const (
	EventOrderCreated    = "order_created"
	EventPaymentReceived = "payment_received"
	EventProductionReady = "production_ready"
	EventInvoiceIssued   = "invoice_issued"
	EventOrderShipped    = "order_shipped"
	EventOrderDelivered  = "order_delivered"
)

// Contacts resolves customers and campaign audiences.
type Contacts interface {
	Get(ctx context.Context, tenantID, id string) (customer.Customer, error)
	Audience(ctx context.Context, tenantID, kind, value string) ([]customer.Customer, error)
}

// Shops provides the sender identity of a tenant.
type Shops interface {
	Get(ctx context.Context, tenantID string) (shop.Shop, error)
}

type Message struct {
	ID          string            `json:"id,omitempty"`
	TenantID    string            `json:"tenant_id"`
	CustomerID  string            `json:"customer_id,omitempty"`
	Recipient   string            `json:"recipient,omitempty"`
	TemplateKey string            `json:"template_key"`
	Channels    []string          `json:"channels,omitempty"`
	Vars        map[string]string `json:"vars,omitempty"`
	CampaignID  string            `json:"campaign_id,omitempty"`
}

// Delivery is the outcome of one Send.
type Delivery struct {
	MessageID         string `json:"message_id"`
	Status            string `json:"status"`
	Channel           string `json:"channel,omitempty"`
	Provider          string `json:"provider,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Duplicate         bool   `json:"duplicate,omitempty"`
	Error             string `json:"error,omitempty"`
	Logs              []Log  `json:"logs"`
}

type Log struct {
	ID                string    `json:"id" db:"id"`
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	MessageID         string    `json:"message_id" db:"message_id"`
	CustomerID        string    `json:"customer_id,omitempty" db:"customer_id"`
	CampaignID        string    `json:"campaign_id,omitempty" db:"campaign_id"`
	TemplateKey       string    `json:"template_key" db:"template_key"`
	Channel           string    `json:"channel" db:"channel"`
	Provider          string    `json:"provider,omitempty" db:"provider"`
	Recipient         string    `json:"recipient,omitempty" db:"recipient"`
	Body              string    `json:"body,omitempty" db:"body"`
	Fingerprint       string    `json:"-" db:"fingerprint"`
	Status            string    `json:"status" db:"status"`
	ProviderMessageID string    `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Error             string    `json:"error,omitempty" db:"error"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

type LogFilter struct {
	Channel    string
	Status     string
	CustomerID string
	CampaignID string
	Cursor     string
	Limit      int
}

// SendRequest is the body of POST /v1/notifications/send.
type SendRequest struct {
	CustomerID  string            `json:"customer_id" validate:"required_without=Recipient"`
	Recipient   string            `json:"recipient" validate:"max=320"`
	TemplateKey string            `json:"template_key" validate:"required,max=100"`
	Channels    []string          `json:"channels" validate:"max=4,dive,oneof=sms whatsapp push email"`
	Vars        map[string]string `json:"vars"`
	// Queue stores the message for the worker instead of sending it now.
	Queue bool `json:"queue"`
}

func (r SendRequest) message(tenantID string) Message {
	return Message{
		TenantID:    tenantID,
		CustomerID:  strings.TrimSpace(r.CustomerID),
		Recipient:   strings.TrimSpace(r.Recipient),
		TemplateKey: strings.TrimSpace(r.TemplateKey),
		Channels:    r.Channels,
		Vars:        r.Vars,
	}
}

func normalizeChannel(ch string) string {
	ch = strings.ToLower(strings.TrimSpace(ch))
	switch ch {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail, ChannelPush:
		return ch
	default:
		return ""
	}
}

// normalizeChannels dedupes channels keeping their order, or returns the defaults.
func normalizeChannels(in []string) (sqlstore.Strings, error) {
	if len(in) == 0 {
		return append(sqlstore.Strings{}, DefaultChannels...), nil
	}
	out := sqlstore.Strings{}
	seen := map[string]bool{}
	for _, raw := range in {
		ch := normalizeChannel(raw)
		if ch == "" {
			return nil, errors.Invalidf("unknown channel %q", raw)
		}
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m Message) validate() error {
	if m.TenantID == "" {
		return errors.New(errors.EInvalid, "tenant is required")
	}
	if m.TemplateKey == "" {
		return errors.New(errors.EInvalid, "template_key is required")
	}
	if m.CustomerID == "" && m.Recipient == "" {
		return errors.New(errors.EInvalid, "customer_id or recipient is required")
	}
	return nil
}
