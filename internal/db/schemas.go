package db

import "embed"

// sqlSchemas holds the migrations applied by MigrateSqlite.
//
//go:embed migrations/*.sql
var sqlSchemas embed.FS
