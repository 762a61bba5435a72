package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"StableLedger/internal/persistence"

	_ "github.com/lib/pq"
)

// TestPostgresDSN returns the Postgres DSN for integration tests, or "" when
// they should be skipped.
func TestPostgresDSN() string {
	return os.Getenv("STABLE_TEST_POSTGRES_DSN")
}

// MigrationsDir locates the repository's migrations directory from this file.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// SetupTestDB opens the test database, applies migrations and truncates every
// table. Tests skip when STABLE_TEST_POSTGRES_DSN is unset or unreachable.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := TestPostgresDSN()
	if dsn == "" {
		t.Skip("STABLE_TEST_POSTGRES_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("test postgres not available: %v", err)
	}
	if err := persistence.NewMigrator(db, MigrationsDir()).Up(ctx); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	truncate := func() {
		tables := []string{
			"ledger.journal_entries",
			"event_log.snapshots",
			"event_log.events",
			"projections.token_balances",
			"projections.positions",
			"projections.debts",
			"projections.liquidations",
			"projections.watermark",
		}
		for _, table := range tables {
			if _, err := db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table)); err != nil {
				t.Logf("truncate %s: %v", table, err)
			}
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		db.Close()
	})

	return db
}
