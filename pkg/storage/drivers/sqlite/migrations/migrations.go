// Package migrations embeds the sqlite driver's schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
