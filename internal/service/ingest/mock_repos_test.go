package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/heartmarshall/qbo-ingest/internal/domain"
)

var (
	_ schemaInitializer = &schemaInitializerMock{}
	_ invoiceRepo       = &invoiceRepoMock{}
	_ metricsRecorder   = &metricsRecorderMock{}
)

type schemaInitializerMock struct {
	EnsureFunc func(ctx context.Context) error

	calls struct {
		Ensure []struct {
			Ctx context.Context
		}
	}
	lockEnsure sync.RWMutex
}

func (mock *schemaInitializerMock) Ensure(ctx context.Context) error {
	if mock.EnsureFunc == nil {
		panic("schemaInitializerMock.EnsureFunc: method is nil but schemaInitializer.Ensure was just called")
	}
	callInfo := struct{ Ctx context.Context }{Ctx: ctx}
	mock.lockEnsure.Lock()
	mock.calls.Ensure = append(mock.calls.Ensure, callInfo)
	mock.lockEnsure.Unlock()
	return mock.EnsureFunc(ctx)
}

func (mock *schemaInitializerMock) EnsureCalls() []struct{ Ctx context.Context } {
	mock.lockEnsure.RLock()
	calls := mock.calls.Ensure
	mock.lockEnsure.RUnlock()
	return calls
}

type invoiceRepoMock struct {
	UpsertBatchFunc func(ctx context.Context, rows []domain.InvoiceRow) (domain.BatchOutcome, error)

	calls struct {
		UpsertBatch []struct {
			Ctx  context.Context
			Rows []domain.InvoiceRow
		}
	}
	lockUpsertBatch sync.RWMutex
}

func (mock *invoiceRepoMock) UpsertBatch(ctx context.Context, rows []domain.InvoiceRow) (domain.BatchOutcome, error) {
	if mock.UpsertBatchFunc == nil {
		panic("invoiceRepoMock.UpsertBatchFunc: method is nil but invoiceRepo.UpsertBatch was just called")
	}
	callInfo := struct {
		Ctx  context.Context
		Rows []domain.InvoiceRow
	}{Ctx: ctx, Rows: rows}
	mock.lockUpsertBatch.Lock()
	mock.calls.UpsertBatch = append(mock.calls.UpsertBatch, callInfo)
	mock.lockUpsertBatch.Unlock()
	return mock.UpsertBatchFunc(ctx, rows)
}

func (mock *invoiceRepoMock) UpsertBatchCalls() []struct {
	Ctx  context.Context
	Rows []domain.InvoiceRow
} {
	mock.lockUpsertBatch.RLock()
	calls := mock.calls.UpsertBatch
	mock.lockUpsertBatch.RUnlock()
	return calls
}

type metricsRecorderMock struct {
	mu      sync.Mutex
	batches []domain.BatchOutcome
	runs    []domain.Report
}

func (mock *metricsRecorderMock) ObserveBatch(outcome domain.BatchOutcome, _ time.Duration) {
	mock.mu.Lock()
	defer mock.mu.Unlock()
	mock.batches = append(mock.batches, outcome)
}

func (mock *metricsRecorderMock) ObserveRun(report domain.Report) {
	mock.mu.Lock()
	defer mock.mu.Unlock()
	mock.runs = append(mock.runs, report)
}
