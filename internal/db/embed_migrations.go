package db

import "embed"

// MigrationFS holds the schema for sessions, vouchers, nullifiers, phone numbers and audit logs.
// cmd/migrate applies it through internal/db/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
