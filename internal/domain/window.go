package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Fallback extraction window applied when the document carries no audit
// metadata. Rows attributed to it are still persisted.
var (
	DefaultWindowStart = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	DefaultWindowEnd   = time.Date(2025, time.September, 11, 23, 59, 59, 0, time.UTC)
)

// ExtractionWindow is the time range and pagination context under which a
// set of records was fetched from the source API.
type ExtractionWindow struct {
	Start    time.Time
	End      time.Time
	Pages    *int32
	PageSize *int32
}

// DefaultWindow returns the fallback window with no pagination info.
func DefaultWindow() ExtractionWindow {
	return ExtractionWindow{Start: DefaultWindowStart, End: DefaultWindowEnd}
}

// AuditEntry is one element of the document's "audit" list as received.
// Bounds are kept as text until resolved.
type AuditEntry struct {
	WindowStartUTC *string `json:"window_start_utc"`
	WindowEndUTC   *string `json:"window_end_utc"`
	Pages          *int32  `json:"pages"`
	PageSize       *int32  `json:"page_size"`
}

// UnmarshalJSON accepts pages and page_size as integers, integral floats
// (2.0) or numeric strings ("2").
func (e *AuditEntry) UnmarshalJSON(data []byte) error {
	var aux struct {
		WindowStartUTC *string         `json:"window_start_utc"`
		WindowEndUTC   *string         `json:"window_end_utc"`
		Pages          json.RawMessage `json:"pages"`
		PageSize       json.RawMessage `json:"page_size"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	pages, err := parseCount("pages", aux.Pages)
	if err != nil {
		return err
	}
	pageSize, err := parseCount("page_size", aux.PageSize)
	if err != nil {
		return err
	}

	*e = AuditEntry{
		WindowStartUTC: aux.WindowStartUTC,
		WindowEndUTC:   aux.WindowEndUTC,
		Pages:          pages,
		PageSize:       pageSize,
	}
	return nil
}

// parseCount returns nil for an absent, null or empty value.
func parseCount(field string, raw json.RawMessage) (*int32, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
	}

	if n, err := strconv.ParseInt(text, 10, 32); err == nil {
		v := int32(n)
		return &v, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %q is not a number", field, text)
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return nil, fmt.Errorf("%s: %s is not an integral count", field, text)
	}
	v := int32(f)
	return &v, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseTimestamp parses a window bound. Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
