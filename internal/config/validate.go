package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
)

const (
	maxBatchSize = 1000
	// Seven bind parameters per row in the insert statement; PostgreSQL caps
	// a statement at 65535.
	maxPageSize = 5000
	// PostgreSQL truncates identifiers longer than NAMEDATALEN-1.
	maxIdentifierLen = 63
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) must be <= max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("database.max_conns must be > 0 (got %d)", c.Database.MaxConns)
	}

	if err := c.Ingest.validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if err := c.Log.validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if err := c.Metrics.validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	return nil
}

func (i *IngestConfig) validate() error {
	if i.BatchSize <= 0 || i.BatchSize > maxBatchSize {
		return fmt.Errorf("batch_size must be in [1, %d] (got %d)", maxBatchSize, i.BatchSize)
	}
	if i.PageSize <= 0 || i.PageSize > maxPageSize {
		return fmt.Errorf("page_size must be in [1, %d] (got %d)", maxPageSize, i.PageSize)
	}
	if err := ValidateIdentifier(i.Schema); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := ValidateIdentifier(i.Table); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	if i.Env == "" {
		return fmt.Errorf("env must not be empty")
	}
	if i.Source == "" {
		return fmt.Errorf("source must not be empty")
	}
	if i.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %s)", i.Timeout)
	}
	return nil
}

func (l *LogConfig) validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, l.Level) {
		return fmt.Errorf("level must be one of debug, info, warn, error (got %q)", l.Level)
	}
	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("format must be json or text (got %q)", l.Format)
	}
	return nil
}

func (m *MetricsConfig) validate() error {
	if !m.Enabled() {
		return nil
	}
	u, err := url.Parse(m.PushgatewayURL)
	if err != nil {
		return fmt.Errorf("pushgateway_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("pushgateway_url must be an http(s) URL (got %q)", m.PushgatewayURL)
	}
	if m.Job == "" {
		return fmt.Errorf("job must not be empty when pushgateway_url is set")
	}
	return nil
}

// ValidateIdentifier checks that name is a plain, unquoted SQL identifier.
func ValidateIdentifier(name string) error {
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("identifier %q is longer than %d characters", name, maxIdentifierLen)
	}
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("identifier %q must match %s", name, identifierRe)
	}
	return nil
}
