package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	postgres "github.com/heartmarshall/qbo-ingest/internal/adapter/postgres"
	"github.com/heartmarshall/qbo-ingest/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Options configures a Repo.
type Options struct {
	Schema string
	Table  string
	// PageSize is the number of rows sent per statement inside a batch.
	PageSize int
}

// Repo is the invoice store.
type Repo struct {
	db       postgres.Querier
	tx       txRunner
	table    table
	pageSize int

	updateSQL string
}

// New creates a new invoice repository.
func New(db postgres.Querier, tx txRunner, opts Options) *Repo {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	r := &Repo{
		db:       db,
		tx:       tx,
		table:    newTable(opts.Schema, opts.Table),
		pageSize: opts.PageSize,
	}
	r.updateSQL = buildUpdateSQL(r.table)
	return r
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// UpsertBatch writes rows in one transaction and classifies each one.
//
// Per page a row is first offered to INSERT ... ON CONFLICT DO NOTHING; rows
// that already exist go through an UPDATE guarded by
// payload IS DISTINCT FROM the new payload. Rows matched by neither are
// skipped and left untouched, ingested_at_utc included. Any failure rolls the
// whole batch back.
func (r *Repo) UpsertBatch(ctx context.Context, rows []domain.InvoiceRow) (domain.BatchOutcome, error) {
	if len(rows) == 0 {
		return domain.BatchOutcome{}, nil
	}
	if err := checkUniqueIDs(rows); err != nil {
		return domain.BatchOutcome{}, err
	}

	var outcome domain.BatchOutcome
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, r.db)
		outcome = domain.BatchOutcome{}

		for page := range slices.Chunk(rows, r.pageSize) {
			o, err := r.upsertPage(ctx, q, page)
			if err != nil {
				return err
			}
			outcome = outcome.Add(o)
		}

		if outcome.Total() != len(rows) {
			return fmt.Errorf("upsert %s: %w: classified %d of %d rows", r.table, domain.ErrStore, outcome.Total(), len(rows))
		}
		return nil
	})
	if err != nil {
		return domain.BatchOutcome{}, err
	}

	return outcome, nil
}

func (r *Repo) upsertPage(ctx context.Context, q postgres.Querier, page []domain.InvoiceRow) (domain.BatchOutcome, error) {
	inserted, err := r.insertNew(ctx, q, page)
	if err != nil {
		return domain.BatchOutcome{}, err
	}

	existing := make([]domain.InvoiceRow, 0, len(page)-len(inserted))
	for _, row := range page {
		if _, ok := inserted[row.ID]; !ok {
			existing = append(existing, row)
		}
	}
	if len(existing) == 0 {
		return domain.BatchOutcome{Inserted: len(inserted)}, nil
	}

	updated, err := r.updateChanged(ctx, q, existing)
	if err != nil {
		return domain.BatchOutcome{}, err
	}

	return domain.BatchOutcome{
		Inserted: len(inserted),
		Updated:  len(updated),
		Skipped:  len(existing) - len(updated),
	}, nil
}

// insertNew inserts the rows whose id is not stored yet and returns their ids.
func (r *Repo) insertNew(ctx context.Context, q postgres.Querier, page []domain.InvoiceRow) (map[string]struct{}, error) {
	insert := psql.Insert(r.table.qualified()).Columns(insertColumns...)
	for _, row := range page {
		request, err := json.Marshal(row.Request)
		if err != nil {
			return nil, fmt.Errorf("marshal request metadata for %s: %w", row.ID, err)
		}
		insert = insert.Values(
			row.ID,
			row.Payload,
			row.WindowStart,
			row.WindowEnd,
			int4(row.PageNumber),
			int4(row.PageSize),
			json.RawMessage(request),
		)
	}
	insert = insert.Suffix("ON CONFLICT (" + colID + ") DO NOTHING RETURNING " + colID)

	sql, args, err := insert.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	ids, err := queryIDs(ctx, q, sql, args...)
	if err != nil {
		return nil, postgres.MapError(err, "insert "+r.table.String())
	}
	return ids, nil
}

// updateChanged rewrites the rows whose payload differs from the stored one
// and returns their ids.
func (r *Repo) updateChanged(ctx context.Context, q postgres.Querier, rows []domain.InvoiceRow) (map[string]struct{}, error) {
	var (
		ids      = make([]string, len(rows))
		payloads = make([]string, len(rows))
		starts   = make([]time.Time, len(rows))
		ends     = make([]time.Time, len(rows))
		pages    = make([]pgtype.Int4, len(rows))
		sizes    = make([]pgtype.Int4, len(rows))
		requests = make([]string, len(rows))
	)
	for i, row := range rows {
		request, err := json.Marshal(row.Request)
		if err != nil {
			return nil, fmt.Errorf("marshal request metadata for %s: %w", row.ID, err)
		}
		ids[i] = row.ID
		payloads[i] = string(row.Payload)
		starts[i] = row.WindowStart
		ends[i] = row.WindowEnd
		pages[i] = int4(row.PageNumber)
		sizes[i] = int4(row.PageSize)
		requests[i] = string(request)
	}

	updated, err := queryIDs(ctx, q, r.updateSQL, ids, payloads, starts, ends, pages, sizes, requests)
	if err != nil {
		return nil, postgres.MapError(err, "update "+r.table.String())
	}
	return updated, nil
}

func buildUpdateSQL(t table) string {
	return `UPDATE ` + t.qualified() + ` AS t SET
	payload                  = i.payload::jsonb,
	ingested_at_utc          = now(),
	extract_window_start_utc = i.win_start,
	extract_window_end_utc   = i.win_end,
	page_number              = i.page_number,
	page_size                = i.page_size,
	request_payload          = i.request_payload::jsonb
FROM unnest($1::text[], $2::text[], $3::timestamptz[], $4::timestamptz[], $5::int4[], $6::int4[], $7::text[])
	AS i(id, payload, win_start, win_end, page_number, page_size, request_payload)
WHERE t.id = i.id
	AND t.payload IS DISTINCT FROM i.payload::jsonb
RETURNING t.id`
}

// queryIDs runs a RETURNING id statement and collects the distinct ids.
func queryIDs(ctx context.Context, q postgres.Querier, sql string, args ...any) (map[string]struct{}, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func checkUniqueIDs(rows []domain.InvoiceRow) error {
	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		if row.ID == "" {
			return domain.NewValidationError(fmt.Sprintf("rows[%d].id", i), "required")
		}
		if _, dup := seen[row.ID]; dup {
			return domain.NewValidationError(fmt.Sprintf("rows[%d].id", i), "duplicate id "+row.ID+" in batch")
		}
		seen[row.ID] = struct{}{}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// Get returns the stored invoice with the given natural key.
func (r *Repo) Get(ctx context.Context, id string) (*domain.PersistedInvoice, error) {
	query := psql.Select(selectColumns...).From(r.table.qualified()).Where(sq.Eq{colID: id})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	row := postgres.QuerierFromCtx(ctx, r.db).QueryRow(ctx, sql, args...)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, postgres.MapError(err, "get invoice "+id)
	}
	return inv, nil
}

// List returns stored invoices matching f, most recently ingested first.
func (r *Repo) List(ctx context.Context, f Filter) ([]domain.PersistedInvoice, error) {
	f.normalize()

	query := psql.Select(selectColumns...).
		From(r.table.qualified()).
		Where(f.where()).
		OrderBy(colIngestedAt+" DESC", colID+" ASC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := postgres.QuerierFromCtx(ctx, r.db).Query(ctx, sql, args...)
	if err != nil {
		return nil, postgres.MapError(err, "list invoices")
	}
	defer rows.Close()

	var out []domain.PersistedInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, postgres.MapError(err, "list invoices")
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.MapError(err, "list invoices")
	}
	return out, nil
}

// Count returns the number of stored invoices matching f.
func (r *Repo) Count(ctx context.Context, f Filter) (int, error) {
	query := psql.Select("count(*)").From(r.table.qualified()).Where(f.where())

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var n int64
	if err := postgres.QuerierFromCtx(ctx, r.db).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, postgres.MapError(err, "count invoices")
	}
	return int(n), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func scanInvoice(row pgx.Row) (*domain.PersistedInvoice, error) {
	var (
		inv      domain.PersistedInvoice
		payload  []byte
		request  []byte
		page     pgtype.Int4
		pageSize pgtype.Int4
	)
	err := row.Scan(
		&inv.ID,
		&payload,
		&inv.IngestedAt,
		&inv.WindowStart,
		&inv.WindowEnd,
		&page,
		&pageSize,
		&request,
	)
	if err != nil {
		return nil, err
	}

	inv.Payload = json.RawMessage(payload)
	if request != nil {
		inv.RequestPayload = json.RawMessage(request)
	}
	inv.PageNumber = int4Ptr(page)
	inv.PageSize = int4Ptr(pageSize)
	inv.IngestedAt = inv.IngestedAt.UTC()
	inv.WindowStart = inv.WindowStart.UTC()
	inv.WindowEnd = inv.WindowEnd.UTC()
	return &inv, nil
}

func int4(v *int32) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: *v, Valid: true}
}

func int4Ptr(v pgtype.Int4) *int32 {
	if !v.Valid {
		return nil
	}
	n := v.Int32
	return &n
}
