package notify

import (
	"context"
	"database/sql"
	_ "embed"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/sqlstore"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Template struct {
	ID        string    `json:"id" db:"id" yaml:"-"`
	TenantID  string    `json:"tenant_id" db:"tenant_id" yaml:"-"`
	Key       string    `json:"key" db:"key" yaml:"key"`
	Channel   string    `json:"channel" db:"channel" yaml:"channel"`
	Subject   string    `json:"subject,omitempty" db:"subject" yaml:"subject"`
	Body      string    `json:"body" db:"body" yaml:"body"`
	Active    bool      `json:"active" db:"active" yaml:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" yaml:"-"`
}

// Variables lists the placeholders used by the subject and body.
func (t Template) Variables() []string {
	return Variables(t.Subject + "\n" + t.Body)
}

type CreateTemplateRequest struct {
	Key     string `json:"key" validate:"required,max=100"`
	Channel string `json:"channel" validate:"required,oneof=sms whatsapp push email"`
	Subject string `json:"subject" validate:"max=300"`
	Body    string `json:"body" validate:"required,max=4000"`
	Active  *bool  `json:"active"`
}

type UpdateTemplateRequest struct {
	Subject *string `json:"subject,omitempty" validate:"omitempty,max=300"`
	Body    *string `json:"body,omitempty" validate:"omitempty,min=1,max=4000"`
	Active  *bool   `json:"active,omitempty"`
}

func (r UpdateTemplateRequest) empty() bool {
	return r.Subject == nil && r.Body == nil && r.Active == nil
}

type PreviewRequest struct {
	Vars map[string]string `json:"vars"`
}

type Preview struct {
	Subject   string   `json:"subject,omitempty"`
	Body      string   `json:"body"`
	Missing   []string `json:"missing"`
	Variables []string `json:"variables"`
}

type TemplateFilter struct {
	Key     string
	Channel string
}

// Templates stores the tenant's message templates.
type Templates struct {
	db  *sqlstore.DB
	log *zap.Logger
}

func NewTemplates(db *sqlstore.DB, log *zap.Logger) *Templates {
	return &Templates{db: db, log: log}
}

var templateColumns = []string{"id", "tenant_id", "key", "channel", "subject", "body", "active", "created_at", "updated_at"}

// Defaults returns the embedded default templates.
func Defaults() ([]Template, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(defaultsYAML, &doc); err != nil {
		return nil, fmt.Errorf("parsing default templates: %w", err)
	}
	return doc.Templates, nil
}

// SeedDefaults installs every default template the tenant does not have yet.
func (t *Templates) SeedDefaults(ctx context.Context, tenantID string) error {
	defaults, err := Defaults()
	if err != nil {
		return err
	}
	var seeded int
	err = t.db.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, d := range defaults {
			var n int
			if err := sqlstore.Get(ctx, tx, &n, t.db.Builder.
				Select("COUNT(*)").
				From("notification_templates").
				Where(sq.Eq{"tenant_id": tenantID, "key": d.Key, "channel": d.Channel})); err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			d.TenantID = tenantID
			d.Active = true
			if err := t.insert(ctx, tx, &d); err != nil {
				return err
			}
			seeded++
		}
		return nil
	})
	if err != nil {
		return errors.Wrap("notify.SeedDefaults", err)
	}
	t.log.Debug("default templates seeded", zap.String("tenant_id", tenantID), zap.Int("count", seeded))
	return nil
}

func (t *Templates) insert(ctx context.Context, q sqlstore.Queryer, tpl *Template) error {
	tpl.ID = ids.New("tpl")
	tpl.CreatedAt = sqlstore.Now()
	tpl.UpdatedAt = tpl.CreatedAt
	_, err := sqlstore.Exec(ctx, q, t.db.Builder.
		Insert("notification_templates").
		Columns(templateColumns...).
		Values(tpl.ID, tpl.TenantID, tpl.Key, tpl.Channel, tpl.Subject, tpl.Body, tpl.Active, tpl.CreatedAt, tpl.UpdatedAt))
	return err
}

func (t *Templates) Create(ctx context.Context, tenantID string, req CreateTemplateRequest) (Template, error) {
	tpl := Template{
		TenantID: tenantID,
		Key:      strings.ToLower(strings.TrimSpace(req.Key)),
		Channel:  normalizeChannel(req.Channel),
		Subject:  strings.TrimSpace(req.Subject),
		Body:     strings.TrimSpace(req.Body),
		Active:   req.Active == nil || *req.Active,
	}
	if tpl.Key == "" || tpl.Body == "" {
		return Template{}, errors.New(errors.EInvalid, "key and body are required")
	}
	if tpl.Channel == "" {
		return Template{}, errors.Invalidf("unknown channel %q", req.Channel)
	}
	if _, err := t.find(ctx, sq.Eq{"tenant_id": tenantID, "key": tpl.Key, "channel": tpl.Channel}); err == nil {
		return Template{}, errors.New(errors.EConflict, fmt.Sprintf("template %s already exists for %s", tpl.Key, tpl.Channel))
	}
	if err := t.insert(ctx, t.db, &tpl); err != nil {
		return Template{}, errors.Wrap("notify.CreateTemplate", err)
	}
	return tpl, nil
}

func (t *Templates) find(ctx context.Context, where sq.Eq) (Template, error) {
	var tpl Template
	err := sqlstore.Get(ctx, t.db, &tpl, t.db.Builder.Select(templateColumns...).From("notification_templates").Where(where))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Template{}, errors.NotFound("template")
	}
	if err != nil {
		return Template{}, errors.Wrap("notify.Template", err)
	}
	return tpl, nil
}

func (t *Templates) Get(ctx context.Context, tenantID, id string) (Template, error) {
	return t.find(ctx, sq.Eq{"tenant_id": tenantID, "id": id})
}

// Active returns the active template for key on channel.
func (t *Templates) Active(ctx context.Context, tenantID, key, channel string) (Template, error) {
	return t.find(ctx, sq.Eq{"tenant_id": tenantID, "key": key, "channel": channel, "active": true})
}

func (t *Templates) List(ctx context.Context, tenantID string, f TemplateFilter) ([]Template, error) {
	b := t.db.Builder.Select(templateColumns...).From("notification_templates").Where(sq.Eq{"tenant_id": tenantID})
	if f.Key != "" {
		b = b.Where(sq.Eq{"key": strings.ToLower(f.Key)})
	}
	if ch := normalizeChannel(f.Channel); ch != "" {
		b = b.Where(sq.Eq{"channel": ch})
	}
	out := []Template{}
	if err := sqlstore.Select(ctx, t.db, &out, b.OrderBy("key", "channel")); err != nil {
		return nil, errors.Wrap("notify.ListTemplates", err)
	}
	return out, nil
}

func (t *Templates) Update(ctx context.Context, tenantID, id string, req UpdateTemplateRequest) (Template, error) {
	if req.empty() {
		return Template{}, errors.New(errors.EInvalid, "empty update payload")
	}
	tpl, err := t.Get(ctx, tenantID, id)
	if err != nil {
		return Template{}, err
	}
	if req.Subject != nil {
		tpl.Subject = strings.TrimSpace(*req.Subject)
	}
	if req.Body != nil {
		tpl.Body = strings.TrimSpace(*req.Body)
	}
	if req.Active != nil {
		tpl.Active = *req.Active
	}
	if tpl.Body == "" {
		return Template{}, errors.New(errors.EInvalid, "body is required")
	}
	tpl.UpdatedAt = sqlstore.Now()
	_, err = sqlstore.Exec(ctx, t.db, t.db.Builder.
		Update("notification_templates").
		SetMap(map[string]any{
			"subject":    tpl.Subject,
			"body":       tpl.Body,
			"active":     tpl.Active,
			"updated_at": tpl.UpdatedAt,
		}).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return Template{}, errors.Wrap("notify.UpdateTemplate", err)
	}
	return tpl, nil
}

func (t *Templates) Delete(ctx context.Context, tenantID, id string) error {
	n, err := sqlstore.Exec(ctx, t.db, t.db.Builder.Delete("notification_templates").Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return errors.Wrap("notify.DeleteTemplate", err)
	}
	if n == 0 {
		return errors.NotFound("template")
	}
	return nil
}

// Preview renders the template with vars without sending anything.
func (t *Templates) Preview(ctx context.Context, tenantID, id string, vars map[string]string) (Preview, error) {
	tpl, err := t.Get(ctx, tenantID, id)
	if err != nil {
		return Preview{}, err
	}
	subject, m1 := Render(tpl.Subject, vars)
	body, m2 := Render(tpl.Body, vars)
	return Preview{
		Subject:   subject,
		Body:      body,
		Missing:   mergeMissing(m1, m2),
		Variables: tpl.Variables(),
	}, nil
}

func mergeMissing(a, b []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range append(a, b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
