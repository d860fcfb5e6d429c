// Package invoice implements the raw invoice store on PostgreSQL: schema
// initialization, the idempotent batch upsert and the read side.
package invoice

import (
	"context"
	"fmt"

	postgres "github.com/heartmarshall/qbo-ingest/internal/adapter/postgres"
)

type txRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Schema creates the invoice table and its indexes when missing. It never
// drops or alters existing objects.
type Schema struct {
	db    postgres.Querier
	tx    txRunner
	table table
}

// NewSchema creates a Schema for schema.table.
func NewSchema(db postgres.Querier, tx txRunner, schema, table string) *Schema {
	return &Schema{db: db, tx: tx, table: newTable(schema, table)}
}

// Ensure runs the DDL under a transaction-scoped advisory lock keyed by the
// table name, so concurrent initializers serialize. A loser of a catalog race
// that slipped past the lock is retried once.
func (s *Schema) Ensure(ctx context.Context) error {
	err := s.ensure(ctx)
	if err != nil && postgres.IsDuplicateObject(err) {
		err = s.ensure(ctx)
	}
	if err != nil {
		return fmt.Errorf("ensure %s: %w", s.table, err)
	}
	return nil
}

func (s *Schema) ensure(ctx context.Context) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, s.db)

		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.table.String()); err != nil {
			return postgres.MapError(err, "acquire schema lock")
		}

		for _, stmt := range s.statements() {
			if _, err := q.Exec(ctx, stmt); err != nil {
				return postgres.MapError(err, "run DDL")
			}
		}
		return nil
	})
}

func (s *Schema) statements() []string {
	t := s.table.qualified()
	return []string{
		`CREATE SCHEMA IF NOT EXISTS ` + s.table.schemaIdent(),
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
	id                       text PRIMARY KEY,
	payload                  jsonb NOT NULL,
	ingested_at_utc          timestamptz NOT NULL DEFAULT now(),
	extract_window_start_utc timestamptz NOT NULL,
	extract_window_end_utc   timestamptz NOT NULL,
	page_number              int4,
	page_size                int4,
	request_payload          jsonb
)`,
		`CREATE INDEX IF NOT EXISTS ` + s.table.index("ingested_at") + ` ON ` + t + ` (ingested_at_utc)`,
		`CREATE INDEX IF NOT EXISTS ` + s.table.index("win_start") + ` ON ` + t + ` (extract_window_start_utc)`,
		`CREATE INDEX IF NOT EXISTS ` + s.table.index("win_end") + ` ON ` + t + ` (extract_window_end_utc)`,
	}
}
