// Package search derives filtered views of a controller snapshot from a
// free-text query.
package search

import (
	"strings"
	"sync"
)

// FieldsFunc returns the searchable text fields of a record.
type FieldsFunc[T any] func(T) []string

// Filter returns the records of rows where at least one field contains query
// as a case-insensitive substring. Order is preserved and rows is never
// modified. The query is matched verbatim, surrounding spaces included; only
// an empty query returns a copy of rows.
func Filter[T any](rows []T, query string, fields FieldsFunc[T]) []T {
	out := make([]T, 0, len(rows))
	needle := strings.ToLower(query)
	if needle == "" {
		return append(out, rows...)
	}
	for _, r := range rows {
		if matches(fields(r), needle) {
			out = append(out, r)
		}
	}
	return out
}

func matches(fields []string, needle string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// View memoizes Filter over a versioned snapshot. It recomputes only when the
// query or the snapshot version changes.
type View[T any] struct {
	fields FieldsFunc[T]

	mu      sync.Mutex
	query   string
	version uint64
	valid   bool
	result  []T
}

// NewView returns a view over records described by fields.
func NewView[T any](fields FieldsFunc[T]) *View[T] {
	return &View[T]{fields: fields}
}

// Apply returns the filtered view of rows, which must be the snapshot
// identified by version.
func (v *View[T]) Apply(rows []T, version uint64, query string) []T {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.valid || v.version != version || v.query != query {
		v.result = Filter(rows, query, v.fields)
		v.version = version
		v.query = query
		v.valid = true
	}
	out := make([]T, len(v.result))
	copy(out, v.result)
	return out
}
