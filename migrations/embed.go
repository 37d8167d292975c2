// Package migrations embeds the versioned SQL schema of the sync engine.
package migrations

import "embed"

// FS holds the up and down migrations
//
//go:embed *.sql
var FS embed.FS
