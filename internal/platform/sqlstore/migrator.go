package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrations returns the embedded schema scripts.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

type Migrator struct {
	db  *DB
	log *zap.Logger
}

func NewMigrator(db *DB, log *zap.Logger) *Migrator {
	return &Migrator{db: db, log: log}
}

// Up applies every script in source whose version is above the recorded one.
// Scripts are named like "0002_migration_name.sql".
func (m *Migrator) Up(ctx context.Context, source fs.FS) error {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	list, err := fs.ReadDir(source, ".")
	if err != nil {
		return err
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	if len(list) == 0 {
		return nil
	}

	current, err := m.Version(ctx)
	if err != nil {
		return err
	}
	final, err := scriptVersion(list[len(list)-1].Name())
	if err != nil {
		return err
	}
	if final > current {
		m.log.Info("Bringing up schema migrations", zap.Int("migration_count", final-current), zap.String("mode", m.db.Mode))
	}

	for _, f := range list {
		n := f.Name()
		v, err := scriptVersion(n)
		if err != nil {
			return err
		}
		// re-read on every step so an out-of-order script is never applied after a newer one.
		c, err := m.Version(ctx)
		if err != nil {
			return err
		}
		if v <= c {
			continue
		}

		m.log.Debug("Executing schema migration", zap.String("migration_name", n))
		script, err := fs.ReadFile(source, n)
		if err != nil {
			return err
		}
		err = m.db.InTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, string(script)); err != nil {
				return fmt.Errorf("migration %s: %w", n, err)
			}
			_, err := Exec(ctx, tx, m.db.Builder.
				Insert("schema_migrations").
				Columns("version", "name", "applied_at").
				Values(v, n, Now()))
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Version returns the highest applied migration, 0 for a new database.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var v int
	err := m.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	return v, err
}

func scriptVersion(filename string) (int, error) {
	vString := strings.Split(filename, "_")[0]
	vInt, err := strconv.Atoi(vString)
	if err != nil {
		return 0, fmt.Errorf("migration %q is not numbered: %w", filename, err)
	}
	return vInt, nil
}
