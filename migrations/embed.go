// Package migrations embeds the goose SQL migrations. The server applies them
// on start when MIGRATE_ON_START is set; the repo tests apply them in TestMain.
package migrations

import "embed"

// FS holds the *.sql migration files.
//
//go:embed *.sql
var FS embed.FS
