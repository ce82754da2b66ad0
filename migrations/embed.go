package migrations

import "embed"

// Files contains the golang-migrate SQL files, ordered by their numeric prefix.
//
//go:embed *.sql
var Files embed.FS
