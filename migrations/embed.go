// Package migrations embeds the bridge's SQL migration files into the binary.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
