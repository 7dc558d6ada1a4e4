package db

import "embed"

// EmbedMigrations holds the goose SQL migrations compiled into the binary.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
