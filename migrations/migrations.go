// Package migrations embeds the schema files so binaries can apply them at
// startup without a copy of the repo on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
