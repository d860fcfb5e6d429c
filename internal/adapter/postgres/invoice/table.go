package invoice

import "github.com/jackc/pgx/v5"

const (
	DefaultSchema   = "raw"
	DefaultTable    = "qb_invoices"
	DefaultPageSize = 200
)

// Column names of the invoice table.
const (
	colID             = "id"
	colPayload        = "payload"
	colIngestedAt     = "ingested_at_utc"
	colWindowStart    = "extract_window_start_utc"
	colWindowEnd      = "extract_window_end_utc"
	colPageNumber     = "page_number"
	colPageSize       = "page_size"
	colRequestPayload = "request_payload"
)

var (
	insertColumns = []string{
		colID, colPayload, colWindowStart, colWindowEnd, colPageNumber, colPageSize, colRequestPayload,
	}
	selectColumns = []string{
		colID, colPayload, colIngestedAt, colWindowStart, colWindowEnd, colPageNumber, colPageSize, colRequestPayload,
	}
)

// table names one invoice table. Names are always emitted quoted.
type table struct {
	schema string
	name   string
}

func newTable(schema, name string) table {
	if schema == "" {
		schema = DefaultSchema
	}
	if name == "" {
		name = DefaultTable
	}
	return table{schema: schema, name: name}
}

func (t table) qualified() string {
	return pgx.Identifier{t.schema, t.name}.Sanitize()
}

func (t table) schemaIdent() string {
	return pgx.Identifier{t.schema}.Sanitize()
}

// index returns the quoted name of one of the table's supporting indexes.
func (t table) index(suffix string) string {
	return pgx.Identifier{"idx_" + t.name + "_" + suffix}.Sanitize()
}

// String returns the unquoted schema.table form used in logs and lock keys.
func (t table) String() string {
	return t.schema + "." + t.name
}
