package domain

import (
	"encoding/json"
	"time"
)

// RequestMetadata is the provenance persisted alongside every written row.
type RequestMetadata struct {
	Env            string `json:"env"`
	Source         string `json:"source"`
	MinorVersion   any    `json:"minor_version"`
	GeneratedAtUTC any    `json:"generated_at_utc"`
	RunID          string `json:"run_id,omitempty"`
}

// InvoiceRow is a deduplicated record with its resolved audit attribution,
// ready to be written.
type InvoiceRow struct {
	ID          string
	Payload     json.RawMessage
	WindowStart time.Time
	WindowEnd   time.Time
	PageNumber  *int32
	PageSize    *int32
	Request     RequestMetadata
}

// PersistedInvoice is a row as stored in the destination table.
type PersistedInvoice struct {
	ID             string
	Payload        json.RawMessage
	IngestedAt     time.Time
	WindowStart    time.Time
	WindowEnd      time.Time
	PageNumber     *int32
	PageSize       *int32
	RequestPayload json.RawMessage
}

// BatchOutcome classifies every row of one written batch.
// Inserted + Updated + Skipped always equals the batch size.
type BatchOutcome struct {
	Inserted int
	Updated  int
	Skipped  int
}

// Total returns the number of classified rows.
func (o BatchOutcome) Total() int {
	return o.Inserted + o.Updated + o.Skipped
}

// Add returns the element-wise sum of o and other.
func (o BatchOutcome) Add(other BatchOutcome) BatchOutcome {
	return BatchOutcome{
		Inserted: o.Inserted + other.Inserted,
		Updated:  o.Updated + other.Updated,
		Skipped:  o.Skipped + other.Skipped,
	}
}
