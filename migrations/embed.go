// Package migrations embeds the PostgreSQL schema applied by billingctl.
package migrations

import "embed"

// FS holds the numbered golang-migrate files.
//
//go:embed *.sql
var FS embed.FS
