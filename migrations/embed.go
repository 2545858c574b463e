// Package migrations embeds the goose SQL migrations for the entity store.
package migrations

import "embed"

// FS contains all *.sql migration files.
//
//go:embed *.sql
var FS embed.FS
