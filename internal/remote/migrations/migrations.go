// Package migrations embeds the goose migrations of the remote Postgres
// schema used by `bitacora remote migrate` and by local development setups.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
