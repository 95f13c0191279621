// Package migrations holds the schema of the postgres store backend.
package migrations

import "embed"

// Files are the NNN_*.sql migrations in version order by name.
//
//go:embed *.sql
var Files embed.FS
