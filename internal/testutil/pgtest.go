// Package testutil provides shared infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// PGTest connects to the database named by POSTGRES_URL, brings the schema
// up to date with goose, and returns the connection plus a cleanup function
// that wipes application tables:
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// Without POSTGRES_URL the calling test is skipped, so the integration
// suite is opt-in.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()
	if err := migrate(ctx, db, t); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: migrate: %v", err)
	}

	return db, func() {
		wipeTables(ctx, db)
		_ = db.Close()
	}
}

func migrate(ctx context.Context, db *sql.DB, t *testing.T) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, migrationsDir(t))
}

// migrationsDir walks up from the test's working directory until it finds
// the repository-level migrations/ directory. Test binaries run from their
// package directory, so the number of hops varies by package.
func migrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("pgtest: getwd: %v", err)
	}

	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("pgtest: no migrations/ directory above the test working directory")
		}
		dir = parent
	}
}

// wipeTables truncates every table in the public schema except goose's
// version bookkeeping, so each test starts from an empty ledger.
func wipeTables(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, pq.QuoteIdentifier(name))
		}
	}
	if len(tables) == 0 {
		return
	}

	// Best-effort teardown; a failed truncate surfaces as a failed next test.
	_, _ = db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE")
}
