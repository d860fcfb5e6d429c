package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/qbo-ingest/internal/domain"
	"github.com/heartmarshall/qbo-ingest/pkg/ctxutil"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

var testClock = time.Date(2025, 9, 12, 8, 0, 0, 0, time.UTC)

func newTestService(schema schemaInitializer, invoices invoiceRepo, metrics metricsRecorder, batchSize int) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewService(logger, schema, invoices, metrics, Config{
		BatchSize: batchSize,
		Env:       "sandbox",
		Source:    "qbo-exporter",
	})

	tick := testClock
	svc.now = func() time.Time {
		tick = tick.Add(250 * time.Millisecond)
		return tick
	}
	svc.newRunID = func() string { return "run-test" }
	return svc
}

func okSchema() *schemaInitializerMock {
	return &schemaInitializerMock{EnsureFunc: func(context.Context) error { return nil }}
}

// memoryStore is a tiny in-memory invoice table with content-equality
// change detection.
type memoryStore struct {
	rows map[string]string
}

func (m *memoryStore) upsert(_ context.Context, rows []domain.InvoiceRow) (domain.BatchOutcome, error) {
	if m.rows == nil {
		m.rows = make(map[string]string)
	}
	var out domain.BatchOutcome
	for _, r := range rows {
		prev, ok := m.rows[r.ID]
		switch {
		case !ok:
			out.Inserted++
		case prev != string(r.Payload):
			out.Updated++
		default:
			out.Skipped++
		}
		m.rows[r.ID] = string(r.Payload)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Ingest tests
// ---------------------------------------------------------------------------

func TestService_Ingest_FirstRunInsertsAll(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	schema := okSchema()
	invoices := &invoiceRepoMock{UpsertBatchFunc: store.upsert}
	metrics := &metricsRecorderMock{}

	svc := newTestService(schema, invoices, metrics, 2)
	report, err := svc.Ingest(context.Background(), []byte(`{
		"data": [{"Id":"1","TotalAmt":10},{"Id":"2"},{"Id":"3"},{"Id":"4"},{"Id":"5"}]
	}`))

	require.NoError(t, err)
	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 5, report.Inserted)
	assert.Zero(t, report.Updated)
	assert.Zero(t, report.Skipped)
	assert.False(t, report.FinishedAtUTC.IsZero())
	assert.Equal(t, time.UTC, report.FinishedAtUTC.Location())
	assert.Positive(t, report.ElapsedSec)

	assert.Len(t, schema.EnsureCalls(), 1)
	calls := invoices.UpsertBatchCalls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0].Rows, 2)
	assert.Len(t, calls[1].Rows, 2)
	assert.Len(t, calls[2].Rows, 1)
	assert.Equal(t, "5", calls[2].Rows[0].ID)
	for _, c := range calls {
		runID, ok := ctxutil.RunIDFromCtx(c.Ctx)
		assert.True(t, ok)
		assert.Equal(t, "run-test", runID)
	}

	assert.Len(t, metrics.batches, 3)
	require.Len(t, metrics.runs, 1)
	assert.Equal(t, report, metrics.runs[0])
}

func TestService_Ingest_Idempotent(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	invoices := &invoiceRepoMock{UpsertBatchFunc: store.upsert}
	svc := newTestService(okSchema(), invoices, nil, 10)

	doc := []byte(`{"data":[{"Id":"1","v":1},{"Id":"2","v":2}]}`)

	first, err := svc.Ingest(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)

	second, err := svc.Ingest(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Processed)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 2, second.Skipped)
}

func TestService_Ingest_ChangedPayloadIsUpdated(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	invoices := &invoiceRepoMock{UpsertBatchFunc: store.upsert}
	svc := newTestService(okSchema(), invoices, nil, 10)

	_, err := svc.Ingest(context.Background(), []byte(`{"data":[{"Id":"1","v":1},{"Id":"2","v":2}]}`))
	require.NoError(t, err)

	report, err := svc.Ingest(context.Background(), []byte(`{"data":[{"Id":"1","v":1},{"Id":"2","v":3},{"Id":"3"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Skipped)
}

func TestService_Ingest_DuplicatesCollapsed(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	invoices := &invoiceRepoMock{UpsertBatchFunc: store.upsert}
	svc := newTestService(okSchema(), invoices, nil, 10)

	report, err := svc.Ingest(context.Background(), []byte(`{
		"data": [{"Id":"A","v":1},{"Id":"B"},{"Id":"A","v":2},{"v":3},"junk"]
	}`))

	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Inserted)

	calls := invoices.UpsertBatchCalls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Rows, 2)
	assert.Equal(t, "A", calls[0].Rows[0].ID)
	assert.JSONEq(t, `{"Id":"A","v":2}`, string(calls[0].Rows[0].Payload))
}

func TestService_Ingest_EmptyInputSkipsStore(t *testing.T) {
	t.Parallel()

	docs := map[string]string{
		"no data":      `{}`,
		"null data":    `{"data":null}`,
		"empty data":   `{"data":[]}`,
		"no valid ids": `{"data":[{"Id":""},{"Id":0},{"Name":"x"}]}`,
	}

	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			metrics := &metricsRecorderMock{}
			svc := newTestService(&schemaInitializerMock{}, &invoiceRepoMock{}, metrics, 10)

			report, err := svc.Ingest(context.Background(), []byte(doc))

			require.NoError(t, err)
			assert.True(t, report.IsEmpty())
			assert.Empty(t, metrics.runs)
		})
	}
}

func TestService_Ingest_MalformedDocument(t *testing.T) {
	t.Parallel()

	svc := newTestService(&schemaInitializerMock{}, &invoiceRepoMock{}, nil, 10)

	for _, doc := range []string{`[]`, `"x"`, `{"data":{"Id":"1"}}`, `{"data":[],"audit":"x"}`} {
		_, err := svc.Ingest(context.Background(), []byte(doc))
		require.ErrorIs(t, err, domain.ErrInvalidInput, doc)
	}
}

func TestService_Ingest_MalformedWindowFailsBeforeStore(t *testing.T) {
	t.Parallel()

	schema := &schemaInitializerMock{}
	invoices := &invoiceRepoMock{}
	svc := newTestService(schema, invoices, nil, 1)

	_, err := svc.Ingest(context.Background(), []byte(`{
		"data": [{"Id":"1"},{"Id":"2","_win_start_utc":"not-a-date"}]
	}`))

	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, schema.EnsureCalls())
	assert.Empty(t, invoices.UpsertBatchCalls())
}

func TestService_Ingest_WindowAndMetadata(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	invoices := &invoiceRepoMock{UpsertBatchFunc: store.upsert}
	svc := newTestService(okSchema(), invoices, nil, 10)

	_, err := svc.Ingest(context.Background(), []byte(`{
		"minor_version": 75,
		"generated_at_utc": "2025-09-12T07:59:00Z",
		"audit": [{"window_start_utc":"2024-01-01T00:00:00Z","window_end_utc":"2024-01-31T23:59:59Z","pages":4,"page_size":100}],
		"data": [{"Id":"1"},{"Id":"2","_win_end_utc":"2024-01-10T00:00:00Z"}]
	}`))
	require.NoError(t, err)

	rows := invoices.UpsertBatchCalls()[0].Rows
	require.Len(t, rows, 2)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rows[0].WindowStart)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), rows[0].WindowEnd)
	assert.Equal(t, int32(4), *rows[0].PageNumber)
	assert.Equal(t, int32(100), *rows[0].PageSize)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), rows[1].WindowEnd)

	meta := rows[0].Request
	assert.Equal(t, "sandbox", meta.Env)
	assert.Equal(t, "qbo-exporter", meta.Source)
	assert.Equal(t, "run-test", meta.RunID)
	assert.Equal(t, "2025-09-12T07:59:00Z", meta.GeneratedAtUTC)
	assert.EqualValues(t, "75", meta.MinorVersion)
}

func TestService_Ingest_FallbackWindow(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	invoices := &invoiceRepoMock{UpsertBatchFunc: store.upsert}
	svc := newTestService(okSchema(), invoices, nil, 10)

	_, err := svc.Ingest(context.Background(), []byte(`{"data":[{"Id":"1"}]}`))
	require.NoError(t, err)

	row := invoices.UpsertBatchCalls()[0].Rows[0]
	assert.True(t, row.WindowStart.Equal(domain.DefaultWindowStart))
	assert.True(t, row.WindowEnd.Equal(domain.DefaultWindowEnd))
	assert.Nil(t, row.PageNumber)
	assert.Nil(t, row.PageSize)
	assert.Nil(t, row.Request.MinorVersion)
}

func TestService_Ingest_SchemaFailure(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("connection refused")
	schema := &schemaInitializerMock{EnsureFunc: func(context.Context) error { return storeErr }}
	invoices := &invoiceRepoMock{}
	svc := newTestService(schema, invoices, nil, 10)

	report, err := svc.Ingest(context.Background(), []byte(`{"data":[{"Id":"1"}]}`))

	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, domain.Report{}, report)
	assert.Empty(t, invoices.UpsertBatchCalls())
}

func TestService_Ingest_BatchFailureAborts(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("deadlock detected")
	store := &memoryStore{}
	invoices := &invoiceRepoMock{
		UpsertBatchFunc: func(ctx context.Context, rows []domain.InvoiceRow) (domain.BatchOutcome, error) {
			if rows[0].ID == "3" {
				return domain.BatchOutcome{}, storeErr
			}
			return store.upsert(ctx, rows)
		},
	}
	metrics := &metricsRecorderMock{}
	svc := newTestService(okSchema(), invoices, metrics, 2)

	report, err := svc.Ingest(context.Background(), []byte(`{
		"data": [{"Id":"1"},{"Id":"2"},{"Id":"3"},{"Id":"4"},{"Id":"5"}]
	}`))

	require.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), "upsert batch 2/3")
	assert.Equal(t, domain.Report{}, report)
	assert.Len(t, invoices.UpsertBatchCalls(), 2)
	assert.Len(t, store.rows, 2)
	assert.Empty(t, metrics.runs)
}

func TestService_Ingest_IncompleteClassification(t *testing.T) {
	t.Parallel()

	invoices := &invoiceRepoMock{
		UpsertBatchFunc: func(context.Context, []domain.InvoiceRow) (domain.BatchOutcome, error) {
			return domain.BatchOutcome{Inserted: 1}, nil
		},
	}
	svc := newTestService(okSchema(), invoices, nil, 10)

	_, err := svc.Ingest(context.Background(), []byte(`{"data":[{"Id":"1"},{"Id":"2"}]}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "classified 1 of 2 rows")
}

// ---------------------------------------------------------------------------
// Prepare tests
// ---------------------------------------------------------------------------

func TestService_Prepare(t *testing.T) {
	t.Parallel()

	svc := newTestService(&schemaInitializerMock{}, &invoiceRepoMock{}, nil, 2)

	doc, err := domain.ParseDocument([]byte(`{"data":[{"Id":"1"},{"Id":"1"},{"Id":"2"},{"Id":"3"},{}]}`))
	require.NoError(t, err)

	plan, err := svc.Prepare(doc)
	require.NoError(t, err)

	assert.Equal(t, "run-test", plan.RunID)
	assert.Equal(t, 5, plan.Input)
	assert.Equal(t, DedupStats{Excluded: 1, Duplicates: 1}, plan.Stats)
	assert.Len(t, plan.Rows, 3)
	assert.Equal(t, 2, plan.Batches(2))
	assert.True(t, plan.Window.Start.Equal(domain.DefaultWindowStart))
}

func TestService_IngestPlan_WritesPreparedPlan(t *testing.T) {
	t.Parallel()

	planner := newTestService(nil, nil, nil, 2)
	doc, err := domain.ParseDocument([]byte(`{"data":[{"Id":"1"},{"Id":"2"},{"Id":"3"}]}`))
	require.NoError(t, err)
	plan, err := planner.Prepare(doc)
	require.NoError(t, err)

	store := &memoryStore{}
	schema := okSchema()
	invoices := &invoiceRepoMock{UpsertBatchFunc: store.upsert}
	svc := newTestService(schema, invoices, nil, 2)

	report, err := svc.IngestPlan(context.Background(), plan)

	require.NoError(t, err)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 3, report.Inserted)
	assert.Len(t, schema.EnsureCalls(), 1)
	calls := invoices.UpsertBatchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, plan.Rows[:2], calls[0].Rows)
	runID, _ := ctxutil.RunIDFromCtx(calls[0].Ctx)
	assert.Equal(t, plan.RunID, runID)
}
