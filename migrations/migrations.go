// Package migrations embeds the SQL schema migrations applied by goose.
package migrations

import "embed"

// FS holds one directory of migrations per database dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
