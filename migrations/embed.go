// Package migrations embeds the clinic schema SQL files so the binary can
// create and upgrade clinic schemas without a checkout of the repository.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
