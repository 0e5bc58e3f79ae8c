// Package testutil provides shared test infrastructure. SetupTestDB uses
// testcontainers-go to spin up a real PostgreSQL instance and run all
// migrations; MemoryRepository is an in-process registry.Repository for
// tests that do not need a database.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/forgecommerce/storefront/internal/database"
	"github.com/forgecommerce/storefront/internal/registry"
)

// TestDB holds a PostgreSQL test container and connection pool. It is
// shared across tests in a single package via TestMain; each test calls
// Truncate to reset state.
type TestDB struct {
	Pool      *pgxpool.Pool
	container testcontainers.Container
	connStr   string
}

// SetupTestDB starts a PostgreSQL container, runs all migrations, and
// returns a TestDB with an active connection pool.
//
// Usage in TestMain:
//
//	var testDB *testutil.TestDB
//
//	func TestMain(m *testing.M) {
//	    db, err := testutil.SetupTestDB()
//	    if err != nil {
//	        log.Printf("integration tests disabled: %v", err)
//	    } else {
//	        testDB = db
//	    }
//	    code := m.Run()
//	    if db != nil { db.Close() }
//	    os.Exit(code)
//	}
func SetupTestDB() (db *TestDB, err error) {
	ctx := context.Background()

	// testcontainers panics rather than erroring when no Docker host is found.
	defer func() {
		if r := recover(); r != nil {
			db, err = nil, fmt.Errorf("starting postgres container: %v", r)
		}
	}()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("storefront_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("getting connection string: %w", err)
	}

	if err := database.Migrate(connStr); err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return &TestDB{
		Pool:      pool,
		container: container,
		connStr:   connStr,
	}, nil
}

// Require skips t when the database could not be started.
func Require(t *testing.T, tdb *TestDB) *TestDB {
	t.Helper()
	if tdb == nil {
		t.Skip("PostgreSQL test container unavailable")
	}
	return tdb
}

// Close terminates the container and closes the pool.
func (tdb *TestDB) Close() {
	if tdb.Pool != nil {
		tdb.Pool.Close()
	}
	if tdb.container != nil {
		tdb.container.Terminate(context.Background())
	}
}

// Truncate removes all product documents. Call this at the start of each
// test for isolation.
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()
	if _, err := tdb.Pool.Exec(context.Background(), `DELETE FROM products`); err != nil {
		t.Fatalf("truncating products: %v", err)
	}
}

// FixtureProduct creates a product with no images through repo.
func FixtureProduct(t *testing.T, repo registry.Repository, name, slug string) registry.Product {
	t.Helper()

	p, err := repo.Create(context.Background(), registry.Product{
		ID:    uuid.New(),
		Name:  name,
		Slug:  slug,
		Price: decimal.RequireFromString("19.90"),
	})
	if err != nil {
		t.Fatalf("creating fixture product %q: %v", name, err)
	}
	return p
}
