// Package migrations embeds the credential store schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
