// Package metrics collects per-run ingestion metrics on a private registry
// and pushes them to a Prometheus Pushgateway when the run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/heartmarshall/qbo-ingest/internal/config"
	"github.com/heartmarshall/qbo-ingest/internal/domain"
)

const namespace = "qbo_ingest"

// Recorder implements the ingestion service's metrics hook.
type Recorder struct {
	registry *prometheus.Registry

	rows          *prometheus.CounterVec
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	batchSize     prometheus.Histogram
	runs          *prometheus.CounterVec
	runDuration   prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows written, by outcome (inserted, updated, skipped).",
		}, []string{"outcome"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches committed.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time taken to upsert one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Rows per committed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11), // 1 to 1024
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs, by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Elapsed time of the last successful run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful run finished.",
		}),
	}

	r.registry.MustRegister(
		r.rows,
		r.batches,
		r.batchDuration,
		r.batchSize,
		r.runs,
		r.runDuration,
		r.lastSuccess,
	)

	return r
}

// Registry returns the private registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveBatch records one committed batch.
func (r *Recorder) ObserveBatch(outcome domain.BatchOutcome, duration time.Duration) {
	r.rows.WithLabelValues("inserted").Add(float64(outcome.Inserted))
	r.rows.WithLabelValues("updated").Add(float64(outcome.Updated))
	r.rows.WithLabelValues("skipped").Add(float64(outcome.Skipped))
	r.batches.Inc()
	r.batchDuration.Observe(duration.Seconds())
	r.batchSize.Observe(float64(outcome.Total()))
}

// ObserveRun records a successful run.
func (r *Recorder) ObserveRun(report domain.Report) {
	r.runs.WithLabelValues("success").Inc()
	r.runDuration.Set(report.ElapsedSec)
	r.lastSuccess.Set(float64(report.FinishedAtUTC.Unix()))
}

// ObserveFailure records a run that ended with an error.
func (r *Recorder) ObserveFailure() {
	r.runs.WithLabelValues("failure").Inc()
}

// Push sends the registry to the configured Pushgateway, replacing the
// job's previous group. It is a no-op when pushing is disabled.
func (r *Recorder) Push(ctx context.Context, cfg config.MetricsConfig, grouping map[string]string) error {
	if !cfg.Enabled() {
		return nil
	}

	pusher := push.New(cfg.PushgatewayURL, cfg.Job).Gatherer(r.registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", cfg.PushgatewayURL, err)
	}
	return nil
}
