// Package migrations embeds the SQL migration files for the event log.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
