package assets

import "embed"

const (
	SQLiteMigrationDir   = "migrations/sqlite"
	PostgresMigrationDir = "migrations/postgres"
)

//go:embed migrations/*
var EmbedMigrations embed.FS
