package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Report summarizes one ingestion run.
type Report struct {
	Processed     int
	Inserted      int
	Updated       int
	Skipped       int
	ElapsedSec    float64
	FinishedAtUTC time.Time
}

// EmptyReport is returned when there was nothing with a valid key to write.
func EmptyReport() Report {
	return Report{}
}

// IsEmpty reports whether the run short-circuited without touching the store.
func (r Report) IsEmpty() bool {
	return r.Processed == 0 && r.FinishedAtUTC.IsZero()
}

// RoundElapsed converts d to seconds with two decimals.
func RoundElapsed(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

type reportJSON struct {
	Processed     int     `json:"processed"`
	Inserted      int     `json:"inserted"`
	Updated       int     `json:"updated"`
	Skipped       int     `json:"skipped"`
	ElapsedSec    float64 `json:"elapsed_sec"`
	FinishedAtUTC string  `json:"finished_at_utc"`
}

// MarshalJSON renders {"processed":0} for an empty run and the full report otherwise.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.IsEmpty() {
		return []byte(`{"processed":0}`), nil
	}
	return json.Marshal(reportJSON{
		Processed:     r.Processed,
		Inserted:      r.Inserted,
		Updated:       r.Updated,
		Skipped:       r.Skipped,
		ElapsedSec:    r.ElapsedSec,
		FinishedAtUTC: r.FinishedAtUTC.UTC().Format(time.RFC3339Nano),
	})
}
