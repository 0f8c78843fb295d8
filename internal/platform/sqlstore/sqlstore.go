// Package sqlstore opens the relational store shared by all services.
//
// Postgres is used when configured and reachable. Otherwise the services run
// on SQLite (in-memory unless a path is given), which is also what the tests use.
package sqlstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/config"
	"erp/ecommerce/internal/platform/cursor"
	"erp/ecommerce/internal/platform/errors"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

type DB struct {
	*sqlx.DB

	// Builder produces statements with the dialect's placeholders.
	Builder sq.StatementBuilderType
	// Mode is "postgres", "sqlite" or "memory".
	Mode string
}

// Open connects to postgres when cfg has a DSN and falls back to SQLite when
// it is missing or unreachable.
func Open(ctx context.Context, cfg config.Database, log *zap.Logger) (*DB, error) {
	if dsn := cfg.DSN(); dsn != "" {
		db, err := OpenPostgres(ctx, dsn, cfg)
		if err == nil {
			return db, nil
		}
		log.Warn("database unavailable, falling back to sqlite", zap.Error(err))
	} else {
		log.Warn("missing DATABASE_URL or DB_HOST, running on sqlite")
	}
	return OpenSQLite(cfg.SQLitePath)
}

func OpenPostgres(ctx context.Context, dsn string, cfg config.Database) (*DB, error) {
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return &DB{
		DB:      db,
		Builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		Mode:    "postgres",
	}, nil
}

// OpenSQLite opens path, or a private shared-cache in-memory database when path is empty.
func OpenSQLite(path string) (*DB, error) {
	mode := "sqlite"
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	if path == "" {
		mode = "memory"
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:erp_%s?mode=memory&cache=shared&_busy_timeout=5000", hex.EncodeToString(buf))
	}
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, err
	}
	// a single connection serializes writers and keeps the in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if err := db.Ping(); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return &DB{
		DB:      db,
		Builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		Mode:    mode,
	}, nil
}

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// InTx runs fn in a transaction, committing when it returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			err = multierr.Append(err, ignoreDone(tx.Rollback()))
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func ignoreDone(err error) error {
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// Get runs a squirrel select into dest.
func Get(ctx context.Context, q Queryer, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	return q.GetContext(ctx, dest, query, args...)
}

// Select runs a squirrel select into the slice dest.
func Select(ctx context.Context, q Queryer, dest any, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	return q.SelectContext(ctx, dest, query, args...)
}

// Exec runs a squirrel statement and returns the number of affected rows.
func Exec(ctx context.Context, q Queryer, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// NextSequence increments and returns the tenant's counter called name.
func (db *DB) NextSequence(ctx context.Context, q Queryer, tenantID, name string) (int64, error) {
	query, args, err := db.Builder.
		Insert("tenant_counters").
		Columns("tenant_id", "name", "value").
		Values(tenantID, name, 1).
		Suffix("ON CONFLICT (tenant_id, name) DO UPDATE SET value = tenant_counters.value + 1 RETURNING value").
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.GetContext(ctx, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

// Explain returns the postgres plan for b as decoded JSON.
func (db *DB) Explain(ctx context.Context, b sq.Sqlizer) (any, error) {
	if db.Mode != "postgres" {
		return map[string]any{"mode": db.Mode, "note": "no SQL plan available"}, nil
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var planRaw []byte
	if err := db.QueryRowxContext(ctx, "EXPLAIN (ANALYZE FALSE, FORMAT JSON) "+query, args...).Scan(&planRaw); err != nil {
		return nil, err
	}
	var parsed any
	if err := json.Unmarshal(planRaw, &parsed); err != nil {
		return string(planRaw), nil
	}
	return parsed, nil
}

// Now returns the current UTC time truncated to what both drivers round-trip.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Page orders b by (created_at DESC, id DESC), starts it after cur and fetches
// limit+1 rows so the caller can tell whether another page exists.
func Page(b sq.SelectBuilder, cur string, limit int) (sq.SelectBuilder, error) {
	if cur != "" {
		ts, id, err := cursor.Parse(cur)
		if err != nil {
			return b, errors.Invalidf("invalid cursor: %v", err)
		}
		b = b.Where(sq.Or{
			sq.Lt{"created_at": ts},
			sq.And{sq.Eq{"created_at": ts}, sq.Lt{"id": id}},
		})
	}
	return b.OrderBy("created_at DESC", "id DESC").Limit(uint64(limit + 1)), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Contains returns a case-insensitive substring match over cols. Wildcards
// in q match literally.
func Contains(q string, cols ...string) sq.Sqlizer {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(q))) + "%"
	or := make(sq.Or, 0, len(cols))
	for _, c := range cols {
		or = append(or, sq.Expr("LOWER("+c+") LIKE ? ESCAPE '\\'", pattern))
	}
	return or
}
