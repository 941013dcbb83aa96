// Package detect finds records that were not present in a source's previous snapshot.
package detect

import "github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"

// ComputeNew returns the records of current whose identity key does not occur
// in previous, in current's order.
//
// A key repeated within current is reported once, at its first occurrence, so
// ComputeNew(x, x) is always empty. The inputs are not modified and the result
// shares no maps with them. The result is never nil.
func ComputeNew(current, previous []record.Record, key record.KeyFunc) []record.Record {
	if key == nil {
		key = record.FieldsKey()
	}

	seen := make(map[string]struct{}, len(previous)+len(current))
	for _, r := range previous {
		seen[key(r)] = struct{}{}
	}

	out := make([]record.Record, 0)
	for _, r := range current {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r.Clone())
	}
	return out
}
