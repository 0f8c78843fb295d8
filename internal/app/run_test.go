package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/platform/config"
)

func TestRunWorkerOnly(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	cfg := config.Load(config.New(), "notify-worker")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, Run(ctx, cfg, zaptest.NewLogger(t), Unit{NoHTTP: true}))
}

func TestRunRejectsUnknownGroup(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	cfg := config.Load(config.New(), "test-service")

	err := Run(context.Background(), cfg, zaptest.NewLogger(t), Unit{Groups: []string{"theme"}})
	require.Error(t, err)
}

func TestServiceCommand(t *testing.T) {
	cmd := ServiceCommand("crm-service", "Customer records API", Unit{Groups: []string{GroupCustomer}})
	assert.Equal(t, "crm-service", cmd.Use)
	for _, name := range []string{"port", "database-url", "auth-jwt-secret", "notify-worker-interval"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.Load(config.New(), "test-service")
	cfg.LogFormat = "xml"
	_, err := NewLogger(cfg)
	require.Error(t, err)

	cfg.LogFormat = "json"
	log, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, log)
}
