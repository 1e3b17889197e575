// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contains the broker's Postgres migrations.
//
//go:embed *.sql
var FS embed.FS
