// Package storage keeps the per-source snapshots the change detector diffs against.
//
// Every driver stores the same flat shape: source id -> ordered list of
// records. A snapshot is only ever replaced whole; a source whose fetch failed
// is simply not written, so its previous snapshot stays readable.
package storage
