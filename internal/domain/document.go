package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the extraction step's output handed to the ingestion.
type Document struct {
	// Data holds the records in input order. Elements that were not JSON
	// objects are kept as nil so they are counted as excluded downstream.
	Data []Record
	// Audit holds the window descriptors; only the first one is used.
	Audit []AuditEntry

	MinorVersion   any
	GeneratedAtUTC any
}

// ParseDocument decodes and shape-checks a raw input document. It fails with
// a *ValidationError (wrapping ErrInvalidInput) when the input is not an
// object, or when "data" or "audit" is present but not a list.
// A missing or null "data" yields an empty document.
func ParseDocument(raw []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := decodeJSON(raw, &top); err != nil || top == nil {
		return nil, NewValidationError("document", "expected a JSON object")
	}

	doc := &Document{}

	if data, ok := top["data"]; ok && !isNull(data) {
		var items []json.RawMessage
		if err := decodeJSON(data, &items); err != nil {
			return nil, NewValidationError("data", "expected a list of records")
		}
		doc.Data = make([]Record, 0, len(items))
		for _, item := range items {
			doc.Data = append(doc.Data, decodeRecord(item))
		}
	}

	if audit, ok := top["audit"]; ok && !isNull(audit) {
		var entries []json.RawMessage
		if err := decodeJSON(audit, &entries); err != nil {
			return nil, NewValidationError("audit", "expected a list of window descriptors")
		}
		doc.Audit = make([]AuditEntry, 0, len(entries))
		for i, e := range entries {
			var entry AuditEntry
			if err := json.Unmarshal(e, &entry); err != nil {
				return nil, NewValidationError(fmt.Sprintf("audit[%d]", i), "malformed window descriptor: "+err.Error())
			}
			doc.Audit = append(doc.Audit, entry)
		}
	}

	if v, ok := top["minor_version"]; ok {
		if err := decodeJSON(v, &doc.MinorVersion); err != nil {
			return nil, NewValidationError("minor_version", err.Error())
		}
	}
	if v, ok := top["generated_at_utc"]; ok {
		if err := decodeJSON(v, &doc.GeneratedAtUTC); err != nil {
			return nil, NewValidationError("generated_at_utc", err.Error())
		}
	}

	return doc, nil
}

// decodeRecord returns nil for anything that is not a JSON object.
func decodeRecord(raw json.RawMessage) Record {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var rec Record
	if err := decodeJSON(trimmed, &rec); err != nil {
		return nil
	}
	return rec
}

// decodeJSON keeps numbers as json.Number so payloads round-trip verbatim.
func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
