package invoice

import (
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Filter selects stored invoices. Zero fields do not filter.
type Filter struct {
	// IDs restricts the result to the given natural keys.
	IDs []string

	// IngestedFrom/IngestedTo bound ingested_at_utc, inclusive/exclusive.
	// Uses the ingested_at index.
	IngestedFrom time.Time
	IngestedTo   time.Time

	// WindowStartFrom keeps rows whose extraction window starts at or after it.
	WindowStartFrom time.Time
	// WindowEndTo keeps rows whose extraction window ends at or before it.
	WindowEndTo time.Time

	// Limit is the maximum number of rows to return. Default: 100, max: 1000.
	// Ignored by Count.
	Limit int
	// Offset is the number of rows to skip. Ignored by Count.
	Offset int
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// normalize applies defaults and clamps values.
func (f *Filter) normalize() {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// where renders the filter's predicates.
func (f Filter) where() sq.And {
	conds := sq.And{}
	if len(f.IDs) > 0 {
		conds = append(conds, sq.Expr(colID+" = ANY(?)", f.IDs))
	}
	if !f.IngestedFrom.IsZero() {
		conds = append(conds, sq.GtOrEq{colIngestedAt: f.IngestedFrom})
	}
	if !f.IngestedTo.IsZero() {
		conds = append(conds, sq.Lt{colIngestedAt: f.IngestedTo})
	}
	if !f.WindowStartFrom.IsZero() {
		conds = append(conds, sq.GtOrEq{colWindowStart: f.WindowStartFrom})
	}
	if !f.WindowEndTo.IsZero() {
		conds = append(conds, sq.LtOrEq{colWindowEnd: f.WindowEndTo})
	}
	return conds
}
