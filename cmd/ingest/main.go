// Command ingest loads one extracted QuickBooks invoice document into the raw
// PostgreSQL store and prints the run report as JSON on stdout.
//
// Flags:
//
//	--config      path to YAML config file (default: CONFIG_PATH or ./config.yaml)
//	--input       path to the input document, "-" for stdin (default: -)
//	--batch-size  rows per transaction (overrides ingest.batch_size)
//	--page-size   rows per statement inside a batch (overrides ingest.page_size)
//	--dry-run     parse, deduplicate and resolve windows without touching the store
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heartmarshall/qbo-ingest/internal/adapter/postgres"
	"github.com/heartmarshall/qbo-ingest/internal/adapter/postgres/invoice"
	"github.com/heartmarshall/qbo-ingest/internal/app"
	"github.com/heartmarshall/qbo-ingest/internal/config"
	"github.com/heartmarshall/qbo-ingest/internal/domain"
	"github.com/heartmarshall/qbo-ingest/internal/metrics"
	"github.com/heartmarshall/qbo-ingest/internal/service/ingest"
)

type options struct {
	configPath string
	input      string
	batchSize  int
	pageSize   int
	dryRun     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to YAML config file")
	flag.StringVar(&opts.input, "input", "-", `input document path, "-" for stdin`)
	flag.IntVar(&opts.batchSize, "batch-size", 0, "rows per transaction (overrides config)")
	flag.IntVar(&opts.pageSize, "page-size", 0, "rows per statement inside a batch (overrides config)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "resolve the document without writing to the store")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), config.Usage())
	}
	flag.Parse()

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)
	logger.Info("starting ingestion",
		slog.String("version", app.BuildVersion()),
		slog.String("table", cfg.Ingest.QualifiedTable()),
		slog.Int("batch_size", cfg.Ingest.BatchSize),
		slog.Bool("dry_run", opts.dryRun),
	)

	if err := run(logger, cfg, opts, os.Stdout); err != nil {
		logger.Error("ingestion failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	// CLI flags override config.
	if opts.batchSize != 0 {
		cfg.Ingest.BatchSize = opts.batchSize
	}
	if opts.pageSize != 0 {
		cfg.Ingest.PageSize = opts.pageSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

func run(logger *slog.Logger, cfg *config.Config, opts options, out io.Writer) error {
	raw, err := readInput(opts.input)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Ingest.Timeout)
	defer cancel()

	svcCfg := ingest.Config{
		BatchSize: cfg.Ingest.BatchSize,
		Env:       cfg.Ingest.Env,
		Source:    cfg.Ingest.Source,
	}

	// The document is validated and planned before any store access.
	planner := ingest.NewService(logger, nil, nil, nil, svcCfg)
	doc, err := domain.ParseDocument(raw)
	if err != nil {
		return err
	}
	plan, err := planner.Prepare(doc)
	if err != nil {
		return err
	}

	if opts.dryRun {
		return writeDryPlan(plan, cfg.Ingest.BatchSize, out)
	}
	if len(plan.Rows) == 0 {
		logger.Info("no invoices with a valid Id", slog.Int("input", plan.Input))
		return writeJSON(out, domain.EmptyReport())
	}

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	txm := postgres.NewTxManager(pool)
	schema := invoice.NewSchema(pool, txm, cfg.Ingest.Schema, cfg.Ingest.Table)
	repo := invoice.New(pool, txm, invoice.Options{
		Schema:   cfg.Ingest.Schema,
		Table:    cfg.Ingest.Table,
		PageSize: cfg.Ingest.PageSize,
	})
	recorder := metrics.NewRecorder()

	svc := ingest.NewService(logger, schema, repo, recorder, svcCfg)
	report, runErr := svc.IngestPlan(ctx, plan)
	if runErr != nil {
		recorder.ObserveFailure()
	}

	pushMetrics(logger, recorder, cfg)

	if runErr != nil {
		return runErr
	}

	if n, err := repo.Count(ctx, invoice.Filter{}); err != nil {
		logger.Warn("count stored invoices", slog.String("error", err.Error()))
	} else {
		logger.Info("stored invoices", slog.String("table", cfg.Ingest.QualifiedTable()), slog.Int("rows", n))
	}

	return writeJSON(out, report)
}

// dryPlan is the dry-run summary printed instead of a report.
type dryPlan struct {
	DryRun         bool      `json:"dry_run"`
	RunID          string    `json:"run_id"`
	Input          int       `json:"input"`
	Processed      int       `json:"processed"`
	Excluded       int       `json:"excluded"`
	Duplicates     int       `json:"duplicates"`
	Batches        int       `json:"batches"`
	WindowStartUTC time.Time `json:"window_start_utc"`
	WindowEndUTC   time.Time `json:"window_end_utc"`
}

func writeDryPlan(plan *ingest.Plan, batchSize int, out io.Writer) error {
	return writeJSON(out, dryPlan{
		DryRun:         true,
		RunID:          plan.RunID,
		Input:          plan.Input,
		Processed:      len(plan.Rows),
		Excluded:       plan.Stats.Excluded,
		Duplicates:     plan.Stats.Duplicates,
		Batches:        plan.Batches(batchSize),
		WindowStartUTC: plan.Window.Start,
		WindowEndUTC:   plan.Window.End,
	})
}

func pushMetrics(logger *slog.Logger, recorder *metrics.Recorder, cfg *config.Config) {
	if !cfg.Metrics.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grouping := map[string]string{"env": cfg.Ingest.Env, "table": cfg.Ingest.QualifiedTable()}
	if err := recorder.Push(ctx, cfg.Metrics, grouping); err != nil {
		logger.Warn("push metrics", slog.String("error", err.Error()))
	}
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return raw, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
