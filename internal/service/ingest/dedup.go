package ingest

import "github.com/heartmarshall/qbo-ingest/internal/domain"

// DedupStats counts what Deduplicate dropped.
type DedupStats struct {
	// Excluded records had no usable natural key.
	Excluded int
	// Duplicates were superseded by a later record with the same key.
	Duplicates int
}

// Deduplicate collapses records to one per natural key. The last occurrence
// wins; keys keep the position of their first occurrence.
func Deduplicate(records []domain.Record) ([]domain.Record, DedupStats) {
	var stats DedupStats

	index := make(map[string]int, len(records))
	out := make([]domain.Record, 0, len(records))

	for _, rec := range records {
		key, ok := rec.Key()
		if !ok {
			stats.Excluded++
			continue
		}
		if i, seen := index[key]; seen {
			out[i] = rec
			stats.Duplicates++
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}

	return out, stats
}
