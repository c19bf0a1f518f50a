// Package migrations holds the step migrations for the KidTrack schema.
// Files are named FROM_TO_description.sql.
package migrations

import "embed"

// FS contains the embedded SQLite step migrations.
//
//go:embed *.sql
var FS embed.FS
