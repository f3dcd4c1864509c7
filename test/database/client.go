// Package database provides shared test helpers for spinning up a real
// PostgreSQL-backed database.Client in integration tests.
package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tagrover/tagrover/pkg/database"
	"github.com/tagrover/tagrover/test/util"
)

// NewTestClient creates a test database client against a fresh schema on the
// shared PostgreSQL instance (testcontainer locally, CI_DATABASE_URL in CI),
// running tagrover's embedded migrations. The client is closed via t.Cleanup.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	connStr := util.NewTestSchema(t)

	client, err := database.NewClient(ctx, database.Config{
		DSN:             connStr,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(client.Close)

	return client
}
