// Package testutil starts throwaway Postgres instances for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/mdollan-source/payg/internal/db"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// NewTestDB starts a Postgres container, applies every migration and returns an open handle.
// The test is skipped under -short or when no container runtime is reachable.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, _ := NewTestPostgres(t)
	return conn
}

// NewTestPostgres is NewTestDB that also returns the connection string, for clients
// that dial their own connections such as pq.Listener.
func NewTestPostgres(t *testing.T) (*sql.DB, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("payg_test"),
		tcpostgres.WithUsername("payg_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	migrateDB, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer migrateDB.Close()
	if err := db.Migrate(migrateDB, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return conn, connStr
}
