package db

import "embed"

// MigrationFS embeds the SQL migrations applied by cmd/migrate: the users table with its
// delegated-credential columns and the device authorization ledger.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
