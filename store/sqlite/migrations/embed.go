// Package migrations embeds the versioned SQLite schema applied by goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
