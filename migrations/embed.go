// Package migrations embeds the SQL migration files so the services can run
// them at startup without a filesystem dependency.
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS
