package shop

import (
	"context"
	"database/sql"
	stderrors "errors"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/sqlstore"
)

// TemplateSeeder installs the default notification templates of a new tenant.
type TemplateSeeder interface {
	SeedDefaults(ctx context.Context, tenantID string) error
}

type Service struct {
	db     *sqlstore.DB
	log    *zap.Logger
	seeder TemplateSeeder
}

func NewService(db *sqlstore.DB, log *zap.Logger, seeder TemplateSeeder) *Service {
	return &Service{db: db, log: log, seeder: seeder}
}

var columns = []string{
	"id", "tenant_id", "name", "slug", "currency", "tax_rate", "order_prefix", "invoice_prefix",
	"sender_name", "contact_phone", "contact_email", "address", "timezone", "status", "created_at", "updated_at",
}

// Get returns the tenant's settings, or the defaults when none were saved.
func (s *Service) Get(ctx context.Context, tenantID string) (Shop, error) {
	sh, err := s.find(ctx, tenantID)
	if errors.Is(err, errors.ENotFound) {
		return Defaults(tenantID), nil
	}
	return sh, err
}

func (s *Service) find(ctx context.Context, tenantID string) (Shop, error) {
	var sh Shop
	err := sqlstore.Get(ctx, s.db, &sh, s.db.Builder.
		Select(columns...).
		From("shops").
		Where(sq.Eq{"tenant_id": tenantID}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Shop{}, errors.NotFound("shop")
	}
	if err != nil {
		return Shop{}, errors.Wrap("shop.Get", err)
	}
	return sh, nil
}

// Put creates or replaces the tenant's settings. created reports a first save,
// which also seeds the tenant's notification templates.
func (s *Service) Put(ctx context.Context, tenantID string, req UpsertShopRequest) (sh Shop, created bool, err error) {
	existing, err := s.find(ctx, tenantID)
	switch {
	case err == nil:
		sh = existing
	case errors.Is(err, errors.ENotFound):
		created = true
		sh = Defaults(tenantID)
		sh.ID = ids.New("shp")
		sh.CreatedAt = sqlstore.Now()
	default:
		return Shop{}, false, err
	}
	if err := req.apply(&sh); err != nil {
		return Shop{}, false, err
	}
	sh.UpdatedAt = sqlstore.Now()

	if created {
		err = s.insert(ctx, sh)
	} else {
		err = s.update(ctx, sh)
	}
	if err != nil {
		return Shop{}, false, err
	}
	if created && s.seeder != nil {
		if err := s.seeder.SeedDefaults(ctx, tenantID); err != nil {
			s.log.Warn("failed to seed notification templates", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
	return sh, created, nil
}

// Update applies a partial update to saved settings.
func (s *Service) Update(ctx context.Context, tenantID string, req UpdateShopRequest) (Shop, error) {
	if req.empty() {
		return Shop{}, errors.New(errors.EInvalid, "empty update payload")
	}
	sh, err := s.find(ctx, tenantID)
	if err != nil {
		return Shop{}, err
	}
	if err := req.apply(&sh); err != nil {
		return Shop{}, err
	}
	sh.UpdatedAt = sqlstore.Now()
	if err := s.update(ctx, sh); err != nil {
		return Shop{}, err
	}
	return sh, nil
}

func (s *Service) insert(ctx context.Context, sh Shop) error {
	_, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Insert("shops").
		Columns(columns...).
		Values(sh.ID, sh.TenantID, sh.Name, sh.Slug, sh.Currency, sh.TaxRate, sh.OrderPrefix, sh.InvoicePrefix,
			sh.SenderName, sh.ContactPhone, sh.ContactEmail, sh.Address, sh.Timezone, sh.Status, sh.CreatedAt, sh.UpdatedAt))
	return errors.Wrap("shop.Put", err)
}

func (s *Service) update(ctx context.Context, sh Shop) error {
	_, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("shops").
		SetMap(map[string]any{
			"name":           sh.Name,
			"slug":           sh.Slug,
			"currency":       sh.Currency,
			"tax_rate":       sh.TaxRate,
			"order_prefix":   sh.OrderPrefix,
			"invoice_prefix": sh.InvoicePrefix,
			"sender_name":    sh.SenderName,
			"contact_phone":  sh.ContactPhone,
			"contact_email":  sh.ContactEmail,
			"address":        sh.Address,
			"timezone":       sh.Timezone,
			"status":         sh.Status,
			"updated_at":     sh.UpdatedAt,
		}).
		Where(sq.Eq{"tenant_id": sh.TenantID}))
	return errors.Wrap("shop.Update", err)
}
