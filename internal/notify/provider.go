package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/mailgun/mailgun-go/v4"

	"erp/ecommerce/internal/platform/config"
)

// Outbound is a rendered message ready for a provider.
type Outbound struct {
	Recipient string
	Sender    string
	Subject   string
	Body      string
}

// Provider delivers messages on one channel and returns the provider's message id.
type Provider interface {
	Name() string
	Channel() string
	Send(ctx context.Context, m Outbound) (string, error)
}

// Providers holds the providers of each channel in failover order.
type Providers map[string][]Provider

// Add appends p to its channel's failover list.
func (ps Providers) Add(p Provider) Providers {
	ps[p.Channel()] = append(ps[p.Channel()], p)
	return ps
}

// NewProviders builds a provider for every channel configured in cfg.
func NewProviders(cfg config.Notify, client *http.Client) Providers {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	ps := Providers{}
	if cfg.WhatsAppToken != "" && cfg.WhatsAppPhoneID != "" {
		ps.Add(&WhatsApp{BaseURL: cfg.WhatsAppURL, PhoneID: cfg.WhatsAppPhoneID, Token: cfg.WhatsAppToken, Client: client})
	}
	if cfg.SMSURL != "" {
		ps.Add(&SMS{Label: "sms-primary", URL: cfg.SMSURL, APIKey: cfg.SMSAPIKey, Sender: cfg.SMSSender, Client: client})
	}
	if cfg.SMSBackupURL != "" {
		ps.Add(&SMS{Label: "sms-backup", URL: cfg.SMSBackupURL, APIKey: cfg.SMSBackupAPIKey, Sender: cfg.SMSSender, Client: client})
	}
	if cfg.PushServerKey != "" {
		ps.Add(&Push{URL: cfg.PushURL, ServerKey: cfg.PushServerKey, Client: client})
	}
	if cfg.MailgunDomain != "" && cfg.MailgunAPIKey != "" {
		ps.Add(NewEmail(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunFrom, ""))
	}
	return ps
}

// ProviderError is a non-2xx answer from a provider API.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

func postJSON(ctx context.Context, client *http.Client, name, url string, header http.Header, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{Provider: name, Status: resp.StatusCode, Body: strings.TrimSpace(string(out))}
	}
	return out, nil
}

// SMS talks to a JSON SMS gateway: POST {to, from, sms, api_key} answering {"message_id": ...}.
type SMS struct {
	Label  string
	URL    string
	APIKey string
	Sender string
	Client *http.Client
}

func (p *SMS) Name() string    { return p.Label }
func (p *SMS) Channel() string { return ChannelSMS }

func (p *SMS) Send(ctx context.Context, m Outbound) (string, error) {
	from := p.Sender
	if from == "" {
		from = m.Sender
	}
	resp, err := postJSON(ctx, p.Client, p.Label, p.URL, nil, map[string]string{
		"to":      m.Recipient,
		"from":    from,
		"sms":     m.Body,
		"api_key": p.APIKey,
	})
	if err != nil {
		return "", err
	}
	id, err := jsonparser.GetString(resp, "message_id")
	if err != nil {
		return "", fmt.Errorf("%s: response has no message_id", p.Label)
	}
	return id, nil
}

// WhatsApp sends text messages through the Cloud API messages endpoint.
type WhatsApp struct {
	BaseURL string
	PhoneID string
	Token   string
	Client  *http.Client
}

func (p *WhatsApp) Name() string    { return "whatsapp-cloud" }
func (p *WhatsApp) Channel() string { return ChannelWhatsApp }

func (p *WhatsApp) Send(ctx context.Context, m Outbound) (string, error) {
	url := strings.TrimRight(p.BaseURL, "/") + "/" + p.PhoneID + "/messages"
	resp, err := postJSON(ctx, p.Client, p.Name(), url, http.Header{"Authorization": {"Bearer " + p.Token}}, map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(m.Recipient, "+"),
		"type":              "text",
		"text":              map[string]string{"body": m.Body},
	})
	if err != nil {
		return "", err
	}
	id, err := jsonparser.GetString(resp, "messages", "[0]", "id")
	if err != nil {
		return "", fmt.Errorf("%s: response has no message id", p.Name())
	}
	return id, nil
}

// Push sends to a device token through an FCM style HTTP endpoint.
type Push struct {
	URL       string
	ServerKey string
	Client    *http.Client
}

func (p *Push) Name() string    { return "fcm" }
func (p *Push) Channel() string { return ChannelPush }

func (p *Push) Send(ctx context.Context, m Outbound) (string, error) {
	resp, err := postJSON(ctx, p.Client, p.Name(), p.URL, http.Header{"Authorization": {"key=" + p.ServerKey}}, map[string]any{
		"to": m.Recipient,
		"notification": map[string]string{
			"title": m.Subject,
			"body":  m.Body,
		},
	})
	if err != nil {
		return "", err
	}
	if ok, _ := jsonparser.GetInt(resp, "success"); ok < 1 {
		reason, _ := jsonparser.GetString(resp, "results", "[0]", "error")
		if reason == "" {
			reason = "rejected"
		}
		return "", fmt.Errorf("%s: %s", p.Name(), reason)
	}
	id, _ := jsonparser.GetString(resp, "results", "[0]", "message_id")
	return id, nil
}

// Email sends through mailgun.
type Email struct {
	From string
	mg   *mailgun.MailgunImpl
}

// NewEmail returns a mailgun sender. apiBase overrides the mailgun API URL when set.
func NewEmail(domain, apiKey, from, apiBase string) *Email {
	mg := mailgun.NewMailgun(domain, apiKey)
	if apiBase != "" {
		mg.SetAPIBase(apiBase)
	}
	if from == "" {
		from = "no-reply@" + domain
	}
	return &Email{From: from, mg: mg}
}

func (p *Email) Name() string    { return "mailgun" }
func (p *Email) Channel() string { return ChannelEmail }

func (p *Email) Send(ctx context.Context, m Outbound) (string, error) {
	from := p.From
	if m.Sender != "" {
		from = fmt.Sprintf("%s <%s>", m.Sender, p.From)
	}
	msg := p.mg.NewMessage(from, m.Subject, m.Body, m.Recipient)
	_, id, err := p.mg.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("mailgun: %w", err)
	}
	return id, nil
}
