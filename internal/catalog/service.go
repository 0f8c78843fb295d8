package catalog

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/cursor"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/sqlstore"
	"erp/ecommerce/internal/shop"
)

// ShopSettings supplies the tenant's default currency.
type ShopSettings interface {
	Get(ctx context.Context, tenantID string) (shop.Shop, error)
}

type Service struct {
	db    *sqlstore.DB
	log   *zap.Logger
	shops ShopSettings
	cache *listcache.Cache[listcache.Result[Product]]
}

func NewService(db *sqlstore.DB, log *zap.Logger, shops ShopSettings, cache *listcache.Cache[listcache.Result[Product]]) *Service {
	return &Service{db: db, log: log, shops: shops, cache: cache}
}

var columns = []string{
	"id", "tenant_id", "sku", "name", "description", "category", "kind", "price", "compare_at_price",
	"currency", "stock_quantity", "track_inventory", "status", "images", "attributes", "created_at", "updated_at",
}

func (s *Service) Create(ctx context.Context, tenantID string, req CreateProductRequest) (Product, error) {
	settings, err := s.shops.Get(ctx, tenantID)
	if err != nil {
		return Product{}, err
	}
	p, err := buildProduct(tenantID, settings.Currency, req)
	if err != nil {
		return Product{}, err
	}
	p.ID = ids.New("prd")
	p.CreatedAt = sqlstore.Now()
	p.UpdatedAt = p.CreatedAt

	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Insert("products").
		Columns(columns...).
		Values(p.ID, p.TenantID, p.SKU, p.Name, p.Description, p.Category, p.Kind, p.Price, p.CompareAtPrice,
			p.Currency, p.StockQuantity, p.TrackInventory, p.Status, p.Images, p.Attributes, p.CreatedAt, p.UpdatedAt))
	if err != nil {
		if s.skuTaken(ctx, tenantID, p.SKU, "") {
			return Product{}, errors.New(errors.EConflict, fmt.Sprintf("sku %s already exists", p.SKU))
		}
		return Product{}, errors.Wrap("catalog.Create", err)
	}
	s.cache.Invalidate(tenantID)
	return p, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Product, error) {
	return s.get(ctx, s.db, tenantID, id)
}

func (s *Service) get(ctx context.Context, q sqlstore.Queryer, tenantID, id string) (Product, error) {
	var p Product
	err := sqlstore.Get(ctx, q, &p, s.db.Builder.
		Select(columns...).
		From("products").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Product{}, errors.NotFound("product")
	}
	if err != nil {
		return Product{}, errors.Wrap("catalog.Get", err)
	}
	return p, nil
}

func (s *Service) listQuery(tenantID string, f ListFilter) sq.SelectBuilder {
	b := s.db.Builder.Select(columns...).From("products").Where(sq.Eq{"tenant_id": tenantID})
	if f.Category != "" {
		b = b.Where(sq.Eq{"category": strings.ToLower(f.Category)})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": f.Kind})
	}
	if f.Query != "" {
		b = b.Where(sqlstore.Contains(f.Query, "name", "sku"))
	}
	return b
}

// List returns one page of products; first pages are served from the list cache.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Product], error) {
	key := listcache.Key(tenantID, f.Category, f.Status, f.Kind, f.Query, strconv.Itoa(f.Limit))
	if f.Cursor == "" {
		if res, ok := s.cache.Get(key); ok {
			res.Cached = true
			return res, nil
		}
	}
	b, err := sqlstore.Page(s.listQuery(tenantID, f), f.Cursor, f.Limit)
	if err != nil {
		return listcache.Result[Product]{}, err
	}
	var rows []Product
	if err := sqlstore.Select(ctx, s.db, &rows, b); err != nil {
		return listcache.Result[Product]{}, errors.Wrap("catalog.List", err)
	}
	items, next := cursor.Page(rows, f.Limit, func(p Product) (time.Time, string) { return p.CreatedAt, p.ID })
	if items == nil {
		items = []Product{}
	}
	res := listcache.Result[Product]{Items: items, NextCursor: next}
	if f.Cursor == "" {
		s.cache.Set(key, res)
	}
	return res, nil
}

// ExplainList returns the query plan of List for f.
func (s *Service) ExplainList(ctx context.Context, tenantID string, f ListFilter) (any, error) {
	b, err := sqlstore.Page(s.listQuery(tenantID, f), "", f.Limit)
	if err != nil {
		return nil, err
	}
	plan, err := s.db.Explain(ctx, b)
	return plan, errors.Wrap("catalog.ExplainList", err)
}

func (s *Service) Update(ctx context.Context, tenantID, id string, req UpdateProductRequest) (Product, error) {
	if req.empty() {
		return Product{}, errors.New(errors.EInvalid, "empty update payload")
	}
	p, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Product{}, err
	}
	if err := req.apply(&p); err != nil {
		return Product{}, err
	}
	if req.SKU != nil && s.skuTaken(ctx, tenantID, p.SKU, p.ID) {
		return Product{}, errors.New(errors.EConflict, fmt.Sprintf("sku %s already exists", p.SKU))
	}
	p.UpdatedAt = sqlstore.Now()

	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("products").
		SetMap(map[string]any{
			"sku":              p.SKU,
			"name":             p.Name,
			"description":      p.Description,
			"category":         p.Category,
			"kind":             p.Kind,
			"price":            p.Price,
			"compare_at_price": p.CompareAtPrice,
			"currency":         p.Currency,
			"track_inventory":  p.TrackInventory,
			"status":           p.Status,
			"images":           p.Images,
			"attributes":       p.Attributes,
			"updated_at":       p.UpdatedAt,
		}).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return Product{}, errors.Wrap("catalog.Update", err)
	}
	s.cache.Invalidate(tenantID)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	n, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Delete("products").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return errors.Wrap("catalog.Delete", err)
	}
	if n == 0 {
		return errors.NotFound("product")
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// AdjustStock adds delta to the product's stock. The result may not go below zero.
func (s *Service) AdjustStock(ctx context.Context, tenantID, id string, req AdjustStockRequest) (Product, error) {
	if req.Delta == 0 {
		return Product{}, errors.New(errors.EInvalid, "delta must not be zero")
	}
	n, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("products").
		Set("stock_quantity", sq.Expr("stock_quantity + ?", req.Delta)).
		Set("updated_at", sqlstore.Now()).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}).
		Where(sq.GtOrEq{"stock_quantity": -req.Delta}))
	if err != nil {
		return Product{}, errors.Wrap("catalog.AdjustStock", err)
	}
	if n == 0 {
		p, err := s.Get(ctx, tenantID, id)
		if err != nil {
			return Product{}, err
		}
		return Product{}, errors.New(errors.EUnprocessableEntity,
			fmt.Sprintf("stock for %s cannot go below zero (have %d, delta %d)", p.SKU, p.StockQuantity, req.Delta))
	}
	s.cache.Invalidate(tenantID)
	s.log.Info("stock adjusted",
		zap.String("tenant_id", tenantID),
		zap.String("product_id", id),
		zap.Int("delta", req.Delta),
		zap.String("reason", req.Reason))
	return s.Get(ctx, tenantID, id)
}

func (s *Service) skuTaken(ctx context.Context, tenantID, sku, exceptID string) bool {
	b := s.db.Builder.Select("COUNT(*)").From("products").Where(sq.Eq{"tenant_id": tenantID, "sku": sku})
	if exceptID != "" {
		b = b.Where(sq.NotEq{"id": exceptID})
	}
	var n int
	if err := sqlstore.Get(ctx, s.db, &n, b); err != nil {
		return false
	}
	return n > 0
}

// ---------------------------------------------------------------------------
// Reservations
// ---------------------------------------------------------------------------

// Line asks for quantity units of a product.
type Line struct {
	ProductID string
	Quantity  int
}

// Reserve checks every product is orderable and takes tracked stock, all
// within q. Lines for the same product are merged. It returns the products
// keyed by id for pricing.
func (s *Service) Reserve(ctx context.Context, q sqlstore.Queryer, tenantID string, lines []Line) (map[string]Product, error) {
	merged := mergeLines(lines)
	out := make(map[string]Product, len(merged))
	for _, l := range merged {
		p, err := s.get(ctx, q, tenantID, l.ProductID)
		if err != nil {
			if errors.Is(err, errors.ENotFound) {
				return nil, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("product %s not found", l.ProductID))
			}
			return nil, err
		}
		if p.Status != StatusActive {
			return nil, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("product %s is not available for sale", p.SKU))
		}
		if p.TrackInventory {
			n, err := sqlstore.Exec(ctx, q, s.db.Builder.
				Update("products").
				Set("stock_quantity", sq.Expr("stock_quantity - ?", l.Quantity)).
				Set("updated_at", sqlstore.Now()).
				Where(sq.Eq{"tenant_id": tenantID, "id": p.ID}).
				Where(sq.GtOrEq{"stock_quantity": l.Quantity}))
			if err != nil {
				return nil, errors.Wrap("catalog.Reserve", err)
			}
			if n == 0 {
				return nil, errors.New(errors.EConflict,
					fmt.Sprintf("insufficient stock for %s: requested %d, available %d", p.SKU, l.Quantity, p.StockQuantity))
			}
			p.StockQuantity -= l.Quantity
		}
		out[p.ID] = p
	}
	s.cache.Invalidate(tenantID)
	return out, nil
}

// Release returns reserved units of tracked products to stock.
func (s *Service) Release(ctx context.Context, q sqlstore.Queryer, tenantID string, lines []Line) error {
	for _, l := range mergeLines(lines) {
		_, err := sqlstore.Exec(ctx, q, s.db.Builder.
			Update("products").
			Set("stock_quantity", sq.Expr("stock_quantity + ?", l.Quantity)).
			Set("updated_at", sqlstore.Now()).
			Where(sq.Eq{"tenant_id": tenantID, "id": l.ProductID, "track_inventory": true}))
		if err != nil {
			return errors.Wrap("catalog.Release", err)
		}
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// mergeLines sums quantities per product, ordered by product id so concurrent
// reservations lock rows in the same order.
func mergeLines(lines []Line) []Line {
	byID := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.ProductID == "" || l.Quantity <= 0 {
			continue
		}
		byID[l.ProductID] += l.Quantity
	}
	out := make([]Line, 0, len(byID))
	for id, qty := range byID {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
