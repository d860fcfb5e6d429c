package config

import "time"

// Config is the root application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig holds PostgreSQL connection settings. The DSN is the
// resolved working-store connection; secret resolution happens upstream.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"4"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"1"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	ApplicationName string        `yaml:"application_name"   env:"DATABASE_APPLICATION_NAME"   env-default:"qbo-ingest"`
}

// IngestConfig holds invoice ingestion settings.
type IngestConfig struct {
	BatchSize int           `yaml:"batch_size" env:"INGEST_BATCH_SIZE" env-default:"10"`
	PageSize  int           `yaml:"page_size"  env:"INGEST_PAGE_SIZE"  env-default:"200"`
	Schema    string        `yaml:"schema"     env:"INGEST_SCHEMA"     env-default:"raw"`
	Table     string        `yaml:"table"      env:"INGEST_TABLE"      env-default:"qb_invoices"`
	Env       string        `yaml:"env"        env:"INGEST_ENV"        env-default:"sandbox"`
	Source    string        `yaml:"source"     env:"INGEST_SOURCE"     env-default:"qbo-exporter"`
	Timeout   time.Duration `yaml:"timeout"    env:"INGEST_TIMEOUT"    env-default:"10m"`
}

// QualifiedTable returns "schema.table" for logging.
func (c IngestConfig) QualifiedTable() string {
	return c.Schema + "." + c.Table
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// MetricsConfig holds run metrics settings. Metrics are pushed once at the
// end of a run; an empty PushgatewayURL disables pushing.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" env:"METRICS_PUSHGATEWAY_URL"`
	Job            string `yaml:"job"             env:"METRICS_JOB"             env-default:"qbo_ingest"`
}

// Enabled reports whether metrics should be pushed.
func (c MetricsConfig) Enabled() bool {
	return c.PushgatewayURL != ""
}
