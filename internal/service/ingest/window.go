package ingest

import (
	"fmt"
	"time"

	"github.com/heartmarshall/qbo-ingest/internal/domain"
)

// WindowResolver attributes records to an extraction window. Precedence per
// bound: record override, then the document's first audit entry, then the
// default window. Pagination comes from the audit entry only.
type WindowResolver struct {
	base domain.ExtractionWindow
}

// NewWindowResolver builds the batch-level window from the audit list.
func NewWindowResolver(audit []domain.AuditEntry) (*WindowResolver, error) {
	base := domain.DefaultWindow()
	if len(audit) == 0 {
		return &WindowResolver{base: base}, nil
	}

	first := audit[0]
	if first.WindowStartUTC != nil {
		t, err := domain.ParseTimestamp(*first.WindowStartUTC)
		if err != nil {
			return nil, domain.NewValidationError("audit[0].window_start_utc", err.Error())
		}
		base.Start = t
	}
	if first.WindowEndUTC != nil {
		t, err := domain.ParseTimestamp(*first.WindowEndUTC)
		if err != nil {
			return nil, domain.NewValidationError("audit[0].window_end_utc", err.Error())
		}
		base.End = t
	}
	base.Pages = first.Pages
	base.PageSize = first.PageSize

	return &WindowResolver{base: base}, nil
}

// Base returns the batch-level window.
func (r *WindowResolver) Base() domain.ExtractionWindow {
	return r.base
}

// Resolve returns the effective window for one record.
func (r *WindowResolver) Resolve(rec domain.Record) (domain.ExtractionWindow, error) {
	w := r.base

	start, err := overrideBound(rec, domain.WindowStartOverrideField)
	if err != nil {
		return domain.ExtractionWindow{}, err
	}
	if start != nil {
		w.Start = *start
	}

	end, err := overrideBound(rec, domain.WindowEndOverrideField)
	if err != nil {
		return domain.ExtractionWindow{}, err
	}
	if end != nil {
		w.End = *end
	}

	return w, nil
}

// Rows resolves every record into a writable row carrying meta.
func (r *WindowResolver) Rows(records []domain.Record, meta domain.RequestMetadata) ([]domain.InvoiceRow, error) {
	rows := make([]domain.InvoiceRow, 0, len(records))
	for _, rec := range records {
		key, ok := rec.Key()
		if !ok {
			continue
		}

		w, err := r.Resolve(rec)
		if err != nil {
			return nil, err
		}

		payload, err := rec.Payload()
		if err != nil {
			return nil, domain.NewValidationError("data["+key+"]", err.Error())
		}

		rows = append(rows, domain.InvoiceRow{
			ID:          key,
			Payload:     payload,
			WindowStart: w.Start,
			WindowEnd:   w.End,
			PageNumber:  w.Pages,
			PageSize:    w.PageSize,
			Request:     meta,
		})
	}
	return rows, nil
}

// overrideBound returns nil when the record has no usable override.
// A null or empty value is treated as absent.
func overrideBound(rec domain.Record, field string) (*time.Time, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return nil, nil
	}
	s, isString := v.(string)
	if !isString {
		key, _ := rec.Key()
		return nil, domain.NewValidationError(fmt.Sprintf("data[%s].%s", key, field), "expected a timestamp string")
	}
	if s == "" {
		return nil, nil
	}
	t, err := domain.ParseTimestamp(s)
	if err != nil {
		key, _ := rec.Key()
		return nil, domain.NewValidationError(fmt.Sprintf("data[%s].%s", key, field), err.Error())
	}
	return &t, nil
}
