package record

import "strings"

// KeyFunc projects a record onto its identity key.
//
// Two records with equal keys are the same item for dedup purposes, no matter
// how their other fields differ. Keys are never used for ordering.
type KeyFunc func(Record) string

// keySep cannot appear in trimmed field values scraped from text sources, so
// ("a b", "c") and ("a", "b c") never collide.
const keySep = "\x1f"

// FieldsKey builds a KeyFunc from the named fields, in the given order.
// Values are whitespace-trimmed; missing fields project to "".
// With no fields it falls back to DefaultIdentityFields.
func FieldsKey(fields ...string) KeyFunc {
	if len(fields) == 0 {
		fields = DefaultIdentityFields
	}
	fs := append([]string(nil), fields...)
	return func(r Record) string {
		var b strings.Builder
		for i, f := range fs {
			if i > 0 {
				b.WriteString(keySep)
			}
			b.WriteString(strings.TrimSpace(r[f]))
		}
		return b.String()
	}
}
