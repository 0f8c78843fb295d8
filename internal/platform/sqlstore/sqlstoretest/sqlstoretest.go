// Package sqlstoretest provides migrated in-memory stores for tests.
package sqlstoretest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/platform/sqlstore"
)

// New returns an in-memory SQLite store with every migration applied.
// It is closed when the test ends.
func New(t testing.TB) *sqlstore.DB {
	t.Helper()

	db, err := sqlstore.OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = sqlstore.NewMigrator(db, zaptest.NewLogger(t)).Up(context.Background(), sqlstore.Migrations())
	require.NoError(t, err)
	return db
}
