// Package ingest orchestrates writing an extracted invoice document into the
// raw store: deduplication, window attribution, batching and per-batch upsert.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/qbo-ingest/internal/domain"
	"github.com/heartmarshall/qbo-ingest/pkg/ctxutil"
)

type schemaInitializer interface {
	Ensure(ctx context.Context) error
}

type invoiceRepo interface {
	UpsertBatch(ctx context.Context, rows []domain.InvoiceRow) (domain.BatchOutcome, error)
}

type metricsRecorder interface {
	ObserveBatch(outcome domain.BatchOutcome, duration time.Duration)
	ObserveRun(report domain.Report)
}

// Config holds the per-invocation ingestion settings.
type Config struct {
	BatchSize int
	Env       string
	Source    string
}

// Service is the ingestion coordinator. Batches are written strictly one
// after another; each batch commits on its own.
type Service struct {
	log      *slog.Logger
	schema   schemaInitializer
	invoices invoiceRepo
	metrics  metricsRecorder
	cfg      Config

	now      func() time.Time
	newRunID func() string
}

// NewService creates a new ingestion Service. metrics may be nil.
func NewService(
	log *slog.Logger,
	schema schemaInitializer,
	invoices invoiceRepo,
	metrics metricsRecorder,
	cfg Config,
) *Service {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Service{
		log:      log.With("service", "ingest"),
		schema:   schema,
		invoices: invoices,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
		newRunID: func() string { return uuid.New().String() },
	}
}

// Plan is the store-independent part of a run.
type Plan struct {
	RunID  string
	Input  int
	Stats  DedupStats
	Window domain.ExtractionWindow
	Rows   []domain.InvoiceRow
}

// Batches returns the number of write batches the plan needs.
func (p *Plan) Batches(size int) int {
	return BatchCount(len(p.Rows), size)
}

// Prepare deduplicates the document and resolves every row's window
// without touching the store. Any malformed window is reported here.
func (s *Service) Prepare(doc *domain.Document) (*Plan, error) {
	records, stats := Deduplicate(doc.Data)

	resolver, err := NewWindowResolver(doc.Audit)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		RunID:  s.newRunID(),
		Input:  len(doc.Data),
		Stats:  stats,
		Window: resolver.Base(),
	}
	if len(records) == 0 {
		return plan, nil
	}

	meta := domain.RequestMetadata{
		Env:            s.cfg.Env,
		Source:         s.cfg.Source,
		MinorVersion:   doc.MinorVersion,
		GeneratedAtUTC: doc.GeneratedAtUTC,
		RunID:          plan.RunID,
	}
	plan.Rows, err = resolver.Rows(records, meta)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Ingest parses a raw document and writes it. See IngestDocument.
func (s *Service) Ingest(ctx context.Context, raw []byte) (domain.Report, error) {
	doc, err := domain.ParseDocument(raw)
	if err != nil {
		return domain.Report{}, err
	}
	return s.IngestDocument(ctx, doc)
}

// IngestDocument writes doc batch by batch. A document without any keyed
// record returns the empty report without touching the store. A failing
// batch aborts the run; batches committed before it stay committed.
func (s *Service) IngestDocument(ctx context.Context, doc *domain.Document) (domain.Report, error) {
	start := s.now()

	plan, err := s.Prepare(doc)
	if err != nil {
		return domain.Report{}, err
	}
	return s.ingestPlan(ctx, plan, start)
}

// IngestPlan writes a plan built by Prepare. Callers that must validate the
// document before opening the store prepare first and write afterwards.
func (s *Service) IngestPlan(ctx context.Context, plan *Plan) (domain.Report, error) {
	return s.ingestPlan(ctx, plan, s.now())
}

func (s *Service) ingestPlan(ctx context.Context, plan *Plan, start time.Time) (domain.Report, error) {
	ctx = ctxutil.WithRunID(ctx, plan.RunID)
	if plan.Stats.Excluded > 0 || plan.Stats.Duplicates > 0 {
		s.log.DebugContext(ctx, "records collapsed",
			slog.Int("input", plan.Input),
			slog.Int("excluded", plan.Stats.Excluded),
			slog.Int("duplicates", plan.Stats.Duplicates),
		)
	}
	if len(plan.Rows) == 0 {
		s.log.InfoContext(ctx, "no invoices with a valid Id", slog.Int("input", plan.Input))
		return domain.EmptyReport(), nil
	}

	if err := s.schema.Ensure(ctx); err != nil {
		return domain.Report{}, fmt.Errorf("ensure schema: %w", err)
	}

	total := domain.BatchOutcome{}
	batches := plan.Batches(s.cfg.BatchSize)
	n := 0
	for batch := range Batches(plan.Rows, s.cfg.BatchSize) {
		n++
		batchStart := s.now()

		outcome, err := s.invoices.UpsertBatch(ctx, batch)
		if err != nil {
			s.log.ErrorContext(ctx, "batch failed",
				slog.Int("batch", n),
				slog.Int("batches", batches),
				slog.Int("size", len(batch)),
				slog.String("error", err.Error()),
			)
			return domain.Report{}, fmt.Errorf("upsert batch %d/%d: %w", n, batches, err)
		}
		if outcome.Total() != len(batch) {
			return domain.Report{}, fmt.Errorf("upsert batch %d/%d: classified %d of %d rows", n, batches, outcome.Total(), len(batch))
		}

		s.metrics.ObserveBatch(outcome, s.now().Sub(batchStart))
		total = total.Add(outcome)

		s.log.InfoContext(ctx, "batch written",
			slog.Int("batch", n),
			slog.Int("size", len(batch)),
			slog.Int("inserted", outcome.Inserted),
			slog.Int("updated", outcome.Updated),
			slog.Int("skipped", outcome.Skipped),
		)
	}

	finished := s.now()
	report := domain.Report{
		Processed:     len(plan.Rows),
		Inserted:      total.Inserted,
		Updated:       total.Updated,
		Skipped:       total.Skipped,
		ElapsedSec:    domain.RoundElapsed(finished.Sub(start)),
		FinishedAtUTC: finished.UTC(),
	}
	s.metrics.ObserveRun(report)

	s.log.InfoContext(ctx, "ingestion completed",
		slog.Int("processed", report.Processed),
		slog.Int("inserted", report.Inserted),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Duration("elapsed", finished.Sub(start)),
	)

	return report, nil
}

type noopRecorder struct{}

func (noopRecorder) ObserveBatch(domain.BatchOutcome, time.Duration) {}
func (noopRecorder) ObserveRun(domain.Report)                        {}
