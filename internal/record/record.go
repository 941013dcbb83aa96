// Package record defines the normalized unit of upstream data shared by
// adapters, the change detector, the digest and the snapshot store.
package record

import (
	"sort"
	"strings"
)

// Common field names produced by the venue adapters.
const (
	FieldEventName = "event_name"
	FieldStartDate = "start_date"
	FieldEndDate   = "end_date"
	FieldLocation  = "location"
	FieldURL       = "url"
	FieldEventType = "event_type"
)

// DateLayout is the layout of every date-valued field.
const DateLayout = "2006-01-02"

// DefaultIdentityFields is used when a source does not configure its own.
var DefaultIdentityFields = []string{FieldEventName, FieldStartDate}

// Record is one flat, normalized upstream item.
type Record map[string]string

// Clone returns an independent copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Get returns the trimmed value of field, or def if it is empty.
func (r Record) Get(field, def string) string {
	if v := strings.TrimSpace(r[field]); v != "" {
		return v
	}
	return def
}

// Fields returns the record's field names in sorted order.
func (r Record) Fields() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether a and b hold exactly the same fields and values.
func Equal(a, b Record) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// EqualSlices reports whether a and b hold equal records in the same order.
func EqualSlices(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// CloneAll deep-copies a record sequence. The result is never nil.
func CloneAll(in []Record) []Record {
	out := make([]Record, 0, len(in))
	for _, r := range in {
		out = append(out, r.Clone())
	}
	return out
}
