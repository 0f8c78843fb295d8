package notify

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/platform/cursor"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/metrics"
	"erp/ecommerce/internal/platform/sqlstore"
)

type Options struct {
	RateLimit    rate.Limit
	RateBurst    int
	DedupeWindow time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	Registry     prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.RateLimit <= 0 {
		o.RateLimit = 5
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	return o
}

type Service struct {
	db        *sqlstore.DB
	log       *zap.Logger
	templates *Templates
	contacts  Contacts
	shops     Shops
	providers Providers
	opts      Options

	mu       sync.Mutex
	limiters map[string]*limiterPair

	messages *prometheus.CounterVec
}

// limiterPair throttles a tenant and logs throttling only sometimes.
type limiterPair struct {
	limiter   *rate.Limiter
	sometimes *rate.Sometimes
}

func NewService(db *sqlstore.DB, log *zap.Logger, templates *Templates, contacts Contacts, shops Shops, providers Providers, opts Options) *Service {
	opts = opts.withDefaults()
	if providers == nil {
		providers = Providers{}
	}
	return &Service{
		db:        db,
		log:       log,
		templates: templates,
		contacts:  contacts,
		shops:     shops,
		providers: providers,
		opts:      opts,
		limiters:  make(map[string]*limiterPair),
		messages: metrics.Counter(opts.Registry, "notify", "messages_total",
			"Notification delivery attempts by channel, provider and status.", "channel", "provider", "status"),
	}
}

func (s *Service) Templates() *Templates { return s.templates }

func (s *Service) limiter(tenantID string) *limiterPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[tenantID]
	if !ok {
		l = &limiterPair{
			limiter:   rate.NewLimiter(s.opts.RateLimit, s.opts.RateBurst),
			sometimes: &rate.Sometimes{First: 3, Interval: time.Minute},
		}
		s.limiters[tenantID] = l
	}
	return l
}

// wait blocks until the tenant may send another message.
func (s *Service) wait(ctx context.Context, tenantID string) error {
	l := s.limiter(tenantID)
	if !l.limiter.Allow() {
		l.sometimes.Do(func() {
			s.log.Warn("tenant notification rate limited", zap.String("tenant_id", tenantID))
		})
		if err := l.limiter.Wait(ctx); err != nil {
			return &errors.Error{Code: errors.ETooManyRequests, Msg: "notification rate limit exceeded", Err: err}
		}
	}
	return nil
}

func fingerprint(tenantID, channel, recipient, body string) string {
	return strconv.FormatUint(xxhash.Sum64String(tenantID+"|"+channel+"|"+recipient+"|"+body), 16)
}

// duplicate reports whether the same message was sent within the dedupe window.
func (s *Service) duplicate(ctx context.Context, tenantID, fp string) (bool, error) {
	if s.opts.DedupeWindow <= 0 {
		return false, nil
	}
	var n int
	err := sqlstore.Get(ctx, s.db, &n, s.db.Builder.
		Select("COUNT(*)").
		From("notification_logs").
		Where(sq.Eq{"tenant_id": tenantID, "fingerprint": fp, "status": StatusSent}).
		Where(sq.GtOrEq{"created_at": sqlstore.Now().Add(-s.opts.DedupeWindow)}))
	return n > 0, err
}

// recipientFor picks the address of c on channel, or explains why there is none.
func recipientFor(channel string, m Message, c *customer.Customer) (string, string) {
	if c == nil {
		return m.Recipient, ""
	}
	switch channel {
	case ChannelWhatsApp:
		if !c.WhatsAppOptIn {
			return "", "customer opted out of whatsapp"
		}
		return c.Phone, ""
	case ChannelSMS:
		if !c.SMSOptIn {
			return "", "customer opted out of sms"
		}
		return c.Phone, ""
	case ChannelEmail:
		if c.Email == "" {
			return "", "customer has no email"
		}
		if !c.EmailOptIn {
			return "", "customer opted out of email"
		}
		return c.Email, ""
	case ChannelPush:
		if c.PushToken == "" {
			return "", "customer has no push token"
		}
		return c.PushToken, ""
	}
	return "", "unknown channel"
}

// vars returns m.Vars completed with the customer and shop names.
func (s *Service) vars(ctx context.Context, m Message, c *customer.Customer) (map[string]string, string) {
	out := make(map[string]string, len(m.Vars)+4)
	var sender string
	if s.shops != nil {
		if sh, err := s.shops.Get(ctx, m.TenantID); err == nil {
			sender = sh.DisplayName()
			out["shop_name"] = sender
			out["shop_phone"] = sh.ContactPhone
		}
	}
	if c != nil {
		out["customer_name"] = c.Name
		if f := strings.Fields(c.Name); len(f) > 0 {
			out["customer_first_name"] = f[0]
		}
	}
	for k, v := range m.Vars {
		out[k] = v
	}
	return out, sender
}

// Send delivers m on the first channel that works. Only invalid messages and
// storage errors are returned as errors; delivery problems are reported in
// the Delivery and the logs.
func (s *Service) Send(ctx context.Context, m Message) (Delivery, error) {
	if err := m.validate(); err != nil {
		return Delivery{}, err
	}
	channels, err := normalizeChannels(m.Channels)
	if err != nil {
		return Delivery{}, err
	}
	var c *customer.Customer
	if m.CustomerID != "" {
		cu, err := s.contacts.Get(ctx, m.TenantID, m.CustomerID)
		if err != nil {
			return Delivery{}, err
		}
		c = &cu
	}
	if m.ID == "" {
		m.ID = ids.New("msg")
	}
	vars, sender := s.vars(ctx, m, c)

	d := Delivery{MessageID: m.ID, Status: StatusSkipped, Logs: []Log{}}
	record := func(l Log) error {
		l.MessageID, l.TenantID, l.CustomerID, l.CampaignID, l.TemplateKey = m.ID, m.TenantID, m.CustomerID, m.CampaignID, m.TemplateKey
		if err := s.writeLog(ctx, &l); err != nil {
			return err
		}
		d.Logs = append(d.Logs, l)
		s.messages.WithLabelValues(l.Channel, l.Provider, l.Status).Inc()
		return nil
	}

	for _, ch := range channels {
		recipient, reason := recipientFor(ch, m, c)
		if reason != "" {
			if err := record(Log{Channel: ch, Status: StatusSkipped, Error: reason}); err != nil {
				return d, err
			}
			continue
		}
		tpl, err := s.templates.Active(ctx, m.TenantID, m.TemplateKey, ch)
		if errors.Is(err, errors.ENotFound) {
			if err := record(Log{Channel: ch, Recipient: recipient, Status: StatusSkipped, Error: "no active template"}); err != nil {
				return d, err
			}
			continue
		}
		if err != nil {
			return d, err
		}
		providers := s.providers[ch]
		if len(providers) == 0 {
			if err := record(Log{Channel: ch, Recipient: recipient, Status: StatusSkipped, Error: "no provider configured"}); err != nil {
				return d, err
			}
			continue
		}

		subject, _ := Render(tpl.Subject, vars)
		body, missing := Render(tpl.Body, vars)
		if len(missing) > 0 {
			s.log.Debug("template variables missing",
				zap.String("tenant_id", m.TenantID),
				zap.String("template", m.TemplateKey),
				zap.String("channel", ch),
				zap.Strings("missing", missing))
		}
		fp := fingerprint(m.TenantID, ch, recipient, body)
		dup, err := s.duplicate(ctx, m.TenantID, fp)
		if err != nil {
			return d, errors.Wrap("notify.Send", err)
		}
		if dup {
			d.Duplicate = true
			d.Status = StatusSkipped
			d.Channel = ch
			return d, record(Log{Channel: ch, Recipient: recipient, Body: body, Fingerprint: fp, Status: StatusSkipped, Error: "duplicate message suppressed"})
		}
		if err := s.wait(ctx, m.TenantID); err != nil {
			return d, err
		}

		out := Outbound{Recipient: recipient, Sender: sender, Subject: subject, Body: body}
		for _, p := range providers {
			id, err := p.Send(ctx, out)
			l := Log{Channel: ch, Provider: p.Name(), Recipient: recipient, Body: body, Fingerprint: fp}
			if err != nil {
				l.Status, l.Error = StatusFailed, err.Error()
				d.Status, d.Error = StatusFailed, err.Error()
				s.log.Warn("provider failed",
					zap.String("tenant_id", m.TenantID),
					zap.String("channel", ch),
					zap.String("provider", p.Name()),
					zap.Error(err))
				if err := record(l); err != nil {
					return d, err
				}
				continue
			}
			l.Status, l.ProviderMessageID = StatusSent, id
			if err := record(l); err != nil {
				return d, err
			}
			d.Status, d.Error = StatusSent, ""
			d.Channel, d.Provider, d.ProviderMessageID = ch, p.Name(), id
			return d, nil
		}
	}
	return d, nil
}

func (s *Service) writeLog(ctx context.Context, l *Log) error {
	l.ID = ids.New("nlg")
	l.CreatedAt = sqlstore.Now()
	_, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Insert("notification_logs").
		Columns("id", "tenant_id", "message_id", "customer_id", "campaign_id", "template_key", "channel", "provider",
			"recipient", "body", "fingerprint", "status", "provider_message_id", "error", "created_at").
		Values(l.ID, l.TenantID, l.MessageID, l.CustomerID, l.CampaignID, l.TemplateKey, l.Channel, l.Provider,
			l.Recipient, l.Body, l.Fingerprint, l.Status, l.ProviderMessageID, l.Error, l.CreatedAt))
	if err != nil {
		return errors.Wrap("notify.writeLog", err)
	}
	return nil
}

// Logs lists delivery attempts, newest first.
func (s *Service) Logs(ctx context.Context, tenantID string, f LogFilter) (listcache.Result[Log], error) {
	b := s.db.Builder.
		Select("id", "tenant_id", "message_id", "customer_id", "campaign_id", "template_key", "channel", "provider",
			"recipient", "body", "fingerprint", "status", "provider_message_id", "error", "created_at").
		From("notification_logs").
		Where(sq.Eq{"tenant_id": tenantID})
	if f.Channel != "" {
		b = b.Where(sq.Eq{"channel": normalizeChannel(f.Channel)})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": strings.ToLower(f.Status)})
	}
	if f.CustomerID != "" {
		b = b.Where(sq.Eq{"customer_id": f.CustomerID})
	}
	if f.CampaignID != "" {
		b = b.Where(sq.Eq{"campaign_id": f.CampaignID})
	}
	b, err := sqlstore.Page(b, f.Cursor, f.Limit)
	if err != nil {
		return listcache.Result[Log]{}, err
	}
	var rows []Log
	if err := sqlstore.Select(ctx, s.db, &rows, b); err != nil {
		return listcache.Result[Log]{}, errors.Wrap("notify.Logs", err)
	}
	items, next := cursor.Page(rows, f.Limit, func(l Log) (time.Time, string) { return l.CreatedAt, l.ID })
	if items == nil {
		items = []Log{}
	}
	return listcache.Result[Log]{Items: items, NextCursor: next}, nil
}
