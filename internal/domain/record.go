package domain

import (
	"encoding/json"
	"math"
	"strconv"
)

// Field names the ingestion reads from an otherwise opaque invoice record.
const (
	KeyField                 = "Id"
	WindowStartOverrideField = "_win_start_utc"
	WindowEndOverrideField   = "_win_end_utc"
)

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1 << 53

// Record is one invoice as delivered by the extraction step. Its fields are
// not interpreted beyond the natural key and the optional window overrides;
// the whole map is persisted verbatim as the row payload.
type Record map[string]any

// Key returns the natural key rendered as text. ok is false when the key is
// missing or falsy (empty string, zero, false, null) or has a type that
// cannot be used as a key.
func (r Record) Key() (key string, ok bool) {
	v, found := r[KeyField]
	if !found {
		return "", false
	}

	switch k := v.(type) {
	case string:
		return k, k != ""
	case json.Number:
		if n, err := k.Int64(); err == nil {
			return strconv.FormatInt(n, 10), n != 0
		}
		f, err := k.Float64()
		if err != nil || f == 0 {
			return "", false
		}
		// 1.0 and 1e0 name the same invoice as 1.
		if f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
			return strconv.FormatInt(int64(f), 10), true
		}
		return k.String(), true
	case float64:
		if k == 0 {
			return "", false
		}
		return strconv.FormatFloat(k, 'f', -1, 64), true
	case int:
		if k == 0 {
			return "", false
		}
		return strconv.Itoa(k), true
	case int64:
		if k == 0 {
			return "", false
		}
		return strconv.FormatInt(k, 10), true
	case bool:
		if !k {
			return "", false
		}
		return "true", true
	default:
		return "", false
	}
}

// StringField returns a string-valued field; ok is false if it is absent or not a string.
func (r Record) StringField(name string) (string, bool) {
	s, ok := r[name].(string)
	return s, ok
}

// Payload serializes the record as the JSON document stored in the payload column.
func (r Record) Payload() (json.RawMessage, error) {
	return json.Marshal(r)
}
