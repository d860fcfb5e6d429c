package testhelper

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestSchema holds the per-test tables created by NewTable.
const TestSchema = "it"

// uniqueSuffix returns a short unique string for generating non-conflicting test data.
func uniqueSuffix() string {
	return uuid.New().String()[:8]
}

// NewTableName returns a fresh invoice table name in TestSchema. The table is
// not created; it is dropped (if it exists) via t.Cleanup.
func NewTableName(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	name := "qb_invoices_" + uniqueSuffix()
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(),
			`DROP TABLE IF EXISTS `+pgx.Identifier{TestSchema, name}.Sanitize())
	})
	return name
}

// TableExists reports whether schema.table exists.
func TableExists(t *testing.T, pool *pgxpool.Pool, schema, table string) bool {
	t.Helper()

	var exists bool
	err := pool.QueryRow(context.Background(),
		`SELECT to_regclass($1) IS NOT NULL`,
		pgx.Identifier{schema, table}.Sanitize(),
	).Scan(&exists)
	if err != nil {
		t.Fatalf("testhelper: TableExists: %v", err)
	}
	return exists
}

// CountRows returns the number of rows in schema.table.
func CountRows(t *testing.T, pool *pgxpool.Pool, schema, table string) int {
	t.Helper()

	var n int
	err := pool.QueryRow(context.Background(),
		`SELECT count(*) FROM `+pgx.Identifier{schema, table}.Sanitize(),
	).Scan(&n)
	if err != nil {
		t.Fatalf("testhelper: CountRows: %v", err)
	}
	return n
}
